// Package record holds the canonical file and scheme records and their sites.
package record

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindFile   Kind = "file"
	KindScheme Kind = "scheme"
)

// KindFor maps the proposal's scheme flag onto a record collection.
func KindFor(isScheme bool) Kind {
	if isScheme {
		return KindScheme
	}
	return KindFile
}

func (k Kind) Valid() bool {
	return k == KindFile || k == KindScheme
}

type Status string

const (
	StatusIssued     Status = "issued"
	StatusInProgress Status = "in progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBilled     Status = "billed"
	StatusPaid       Status = "paid"
)

var knownStatuses = map[Status]struct{}{
	StatusIssued:     {},
	StatusInProgress: {},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusBilled:     {},
	StatusPaid:       {},
}

func (s Status) Known() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Record is a file or scheme entry. Derived fields are owned by Recompute and
// are never written from a patch.
type Record struct {
	Kind                 Kind            `json:"kind"`
	ID                   string          `json:"id"`
	FileNumber           string          `json:"fileNumber"`
	Applicant            string          `json:"applicant"`
	SanctionedAmount     decimal.Decimal `json:"sanctionedAmount"`
	AssignedSupervisorID string          `json:"assignedSupervisorId,omitempty"`
	Remarks              string          `json:"remarks"`
	Sites                []Site          `json:"sites"`

	EstimateTotal    decimal.Decimal `json:"estimateTotal"`
	ExpenditureTotal decimal.Decimal `json:"expenditureTotal"`
	Balance          decimal.Decimal `json:"balance"`
	BeneficiaryTotal int             `json:"beneficiaryTotal"`
	SiteCount        int             `json:"siteCount"`

	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Site is a sub-record of a Record, identified within its parent by Name.
type Site struct {
	Name             string          `json:"name"`
	Status           Status          `json:"status,omitempty"`
	Latitude         *float64        `json:"latitude,omitempty"`
	Longitude        *float64        `json:"longitude,omitempty"`
	CompletionDate   Date            `json:"completionDate"`
	BeneficiaryCount int             `json:"beneficiaryCount,omitempty"`
	EstimateAmount   decimal.Decimal `json:"estimateAmount"`
	Expenditure      decimal.Decimal `json:"expenditure"`
	Contractor       string          `json:"contractor,omitempty"`
	Remarks          string          `json:"remarks,omitempty"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (r Record) Clone() Record {
	out := r
	if r.Sites != nil {
		out.Sites = make([]Site, len(r.Sites))
		for i, site := range r.Sites {
			out.Sites[i] = site.Clone()
		}
	}
	return out
}

func (s Site) Clone() Site {
	out := s
	if s.Latitude != nil {
		v := *s.Latitude
		out.Latitude = &v
	}
	if s.Longitude != nil {
		v := *s.Longitude
		out.Longitude = &v
	}
	return out
}

// SiteIndex returns the position of the site named name, or -1.
func (r Record) SiteIndex(name string) int {
	for i := range r.Sites {
		if r.Sites[i].Name == name {
			return i
		}
	}
	return -1
}

func (r Record) Site(name string) (Site, bool) {
	idx := r.SiteIndex(name)
	if idx < 0 {
		return Site{}, false
	}
	return r.Sites[idx], true
}

// Recompute derives every aggregate field from the full set of sites.
func (r *Record) Recompute() {
	estimate := decimal.Zero
	expenditure := decimal.Zero
	beneficiaries := 0
	for _, site := range r.Sites {
		estimate = estimate.Add(site.EstimateAmount)
		expenditure = expenditure.Add(site.Expenditure)
		beneficiaries += site.BeneficiaryCount
	}
	r.EstimateTotal = estimate
	r.ExpenditureTotal = expenditure
	r.Balance = r.SanctionedAmount.Sub(expenditure)
	r.BeneficiaryTotal = beneficiaries
	r.SiteCount = len(r.Sites)
}

// Float is a convenience for building coordinates.
func Float(v float64) *float64 {
	return &v
}
