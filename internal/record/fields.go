package record

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Field identifies a mutable site field. The natural key is deliberately not a Field.
type Field string

const (
	FieldLatitude         Field = "latitude"
	FieldLongitude        Field = "longitude"
	FieldStatus           Field = "status"
	FieldCompletionDate   Field = "completionDate"
	FieldBeneficiaryCount Field = "beneficiaryCount"
	FieldRemarks          Field = "remarks"
	FieldEstimateAmount   Field = "estimateAmount"
	FieldExpenditure      Field = "expenditure"
	FieldContractor       Field = "contractor"
)

// AllFields lists every site field in canonical order.
var AllFields = []Field{
	FieldLatitude,
	FieldLongitude,
	FieldStatus,
	FieldCompletionDate,
	FieldBeneficiaryCount,
	FieldRemarks,
	FieldEstimateAmount,
	FieldExpenditure,
	FieldContractor,
}

var fieldOrder = func() map[Field]int {
	order := make(map[Field]int, len(AllFields))
	for i, f := range AllFields {
		order[f] = i
	}
	return order
}()

func (f Field) Valid() bool {
	_, ok := fieldOrder[f]
	return ok
}

// FieldSet is an immutable-by-convention set of fields.
type FieldSet map[Field]struct{}

func NewFieldSet(fields ...Field) FieldSet {
	set := make(FieldSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func AllFieldSet() FieldSet {
	return NewFieldSet(AllFields...)
}

func (s FieldSet) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

func (s FieldSet) Empty() bool {
	return len(s) == 0
}

// Sorted returns the members in canonical field order.
func (s FieldSet) Sorted() []Field {
	out := make([]Field, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return fieldOrder[out[i]] < fieldOrder[out[j]] })
	return out
}

func (s FieldSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// FieldEqual compares one field of two sites by value: dates by calendar day,
// numbers numerically, strings after trimming. An unset coordinate differs from 0.
func FieldEqual(f Field, a, b Site) bool {
	switch f {
	case FieldLatitude:
		return floatPtrEqual(a.Latitude, b.Latitude)
	case FieldLongitude:
		return floatPtrEqual(a.Longitude, b.Longitude)
	case FieldStatus:
		return strings.TrimSpace(string(a.Status)) == strings.TrimSpace(string(b.Status))
	case FieldCompletionDate:
		return a.CompletionDate == b.CompletionDate
	case FieldBeneficiaryCount:
		return a.BeneficiaryCount == b.BeneficiaryCount
	case FieldRemarks:
		return strings.TrimSpace(a.Remarks) == strings.TrimSpace(b.Remarks)
	case FieldEstimateAmount:
		return a.EstimateAmount.Equal(b.EstimateAmount)
	case FieldExpenditure:
		return a.Expenditure.Equal(b.Expenditure)
	case FieldContractor:
		return strings.TrimSpace(a.Contractor) == strings.TrimSpace(b.Contractor)
	default:
		return true
	}
}

// CopyField sets dst's field f from src, normalising strings.
func CopyField(f Field, dst *Site, src Site) {
	switch f {
	case FieldLatitude:
		dst.Latitude = cloneFloat(src.Latitude)
	case FieldLongitude:
		dst.Longitude = cloneFloat(src.Longitude)
	case FieldStatus:
		dst.Status = Status(strings.TrimSpace(string(src.Status)))
	case FieldCompletionDate:
		dst.CompletionDate = src.CompletionDate
	case FieldBeneficiaryCount:
		dst.BeneficiaryCount = src.BeneficiaryCount
	case FieldRemarks:
		dst.Remarks = strings.TrimSpace(src.Remarks)
	case FieldEstimateAmount:
		dst.EstimateAmount = src.EstimateAmount
	case FieldExpenditure:
		dst.Expenditure = src.Expenditure
	case FieldContractor:
		dst.Contractor = strings.TrimSpace(src.Contractor)
	}
}

// FieldValue renders a field for display and audit payloads.
func FieldValue(f Field, s Site) any {
	switch f {
	case FieldLatitude:
		return floatValue(s.Latitude)
	case FieldLongitude:
		return floatValue(s.Longitude)
	case FieldStatus:
		return string(s.Status)
	case FieldCompletionDate:
		return s.CompletionDate.String()
	case FieldBeneficiaryCount:
		return s.BeneficiaryCount
	case FieldRemarks:
		return s.Remarks
	case FieldEstimateAmount:
		return s.EstimateAmount.String()
	case FieldExpenditure:
		return s.Expenditure.String()
	case FieldContractor:
		return s.Contractor
	default:
		panic(fmt.Sprintf("record: unknown field %q", f))
	}
}

const coordinateEpsilon = 1e-9

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < coordinateEpsilon
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func floatValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
