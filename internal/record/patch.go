package record

// SitePatch is the minimal set of authorized changes to one site. Values and
// Base carry only the fields listed in Fields; everything else is zero.
type SitePatch struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
	Values Site    `json:"values"`
	Base   Site    `json:"base"`
}

func (p SitePatch) Empty() bool {
	return len(p.Fields) == 0
}

func (p SitePatch) Has(f Field) bool {
	for _, candidate := range p.Fields {
		if candidate == f {
			return true
		}
	}
	return false
}

// FieldChange is one (field, from, to) triple for display.
type FieldChange struct {
	Site  string `json:"site"`
	Field Field  `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

func (p SitePatch) Changes() []FieldChange {
	out := make([]FieldChange, 0, len(p.Fields))
	for _, f := range p.Fields {
		out = append(out, FieldChange{
			Site:  p.Name,
			Field: f,
			From:  FieldValue(f, p.Base),
			To:    FieldValue(f, p.Values),
		})
	}
	return out
}
