package app

import (
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"filedesk/api/internal/record"
	"filedesk/api/internal/store"
	"filedesk/api/internal/workflow"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name, _, _ := strings.Cut(field.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return field.Name
	})
	return v
}

type targetPath struct {
	Kind string `query:"kind" validate:"required,oneof=file scheme"`
	ID   string `query:"id" validate:"required,max=128"`
}

func targetFrom(r *http.Request) (store.Target, error) {
	vars := mux.Vars(r)
	in := targetPath{Kind: vars["kind"], ID: strings.TrimSpace(vars["id"])}
	if err := validate.Struct(in); err != nil {
		return store.Target{}, err
	}
	return store.Target{ID: in.ID, IsScheme: record.Kind(in.Kind) == record.KindScheme}, nil
}

type submitRequest struct {
	Sites []record.Site `json:"sites" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type listQuery struct {
	Status    string `query:"status" validate:"omitempty,oneof=pending approved rejected submitter-unassigned"`
	Target    string `query:"target" validate:"omitempty,max=128"`
	Kind      string `query:"kind" validate:"omitempty,oneof=file scheme"`
	Submitter string `query:"submitter" validate:"omitempty,max=128"`
	Limit     int    `query:"limit" validate:"omitempty,min=1,max=500"`
}

func parseListQuery(values url.Values) (store.ProposalFilter, error) {
	q := listQuery{
		Status:    values.Get("status"),
		Target:    strings.TrimSpace(values.Get("target")),
		Kind:      values.Get("kind"),
		Submitter: strings.TrimSpace(values.Get("submitter")),
	}
	limit, err := optionalInt(values, "limit")
	if err != nil {
		return store.ProposalFilter{}, err
	}
	q.Limit = limit
	if err := validate.Struct(q); err != nil {
		return store.ProposalFilter{}, err
	}

	filter := store.ProposalFilter{
		Status:      store.ProposalStatus(q.Status),
		TargetID:    q.Target,
		SubmitterID: q.Submitter,
		Limit:       q.Limit,
	}
	if q.Kind != "" {
		scheme := record.Kind(q.Kind) == record.KindScheme
		filter.IsScheme = &scheme
	}
	return filter, nil
}

type searchQuery struct {
	Text   string `query:"q" validate:"required,max=200"`
	Status string `query:"status" validate:"omitempty,oneof=pending approved rejected submitter-unassigned"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `query:"offset" validate:"omitempty,min=0"`
}

func parseSearchQuery(values url.Values) (searchQuery, error) {
	q := searchQuery{Text: strings.TrimSpace(values.Get("q")), Status: values.Get("status")}
	var err error
	if q.Limit, err = optionalInt(values, "limit"); err != nil {
		return searchQuery{}, err
	}
	if q.Offset, err = optionalInt(values, "offset"); err != nil {
		return searchQuery{}, err
	}
	if err := validate.Struct(q); err != nil {
		return searchQuery{}, err
	}
	return q, nil
}

func optionalInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domainError(http.StatusBadRequest, string(workflow.CodeInvalidInput), key+" must be an integer", nil)
	}
	return n, nil
}
