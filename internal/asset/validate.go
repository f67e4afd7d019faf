package asset

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

var validate = validator.New()

type pageRequest struct {
	Limit  int `validate:"gte=0,lte=1000"`
	Offset int `validate:"gte=0"`
}

// BatchRequest is the body of a bulk action call.
type BatchRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
}

// ValidateQuery checks filter, sort and page inputs and returns an ErrValidation error.
func ValidateQuery(filters Filters, sort Sort, limit, offset int) error {
	if err := validate.Struct(filters); err != nil {
		return validationError("filters", err)
	}
	if err := validate.Struct(sort); err != nil {
		return validationError("sort", err)
	}
	if err := validate.Struct(pageRequest{Limit: limit, Offset: offset}); err != nil {
		return validationError("page", err)
	}
	return nil
}

func ValidateBatch(req BatchRequest) error {
	if err := validate.Struct(req); err != nil {
		return validationError("batch", err)
	}
	return nil
}

func validationError(op string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Kind: ErrValidation, Op: op, Err: err}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if param := fe.Param(); param != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), param))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return &Error{Kind: ErrValidation, Op: op, Err: errors.New(strings.Join(msgs, "; "))}
}

// ParseQuery reads filters, sort and paging from query-string style values.
// List values accept either repeated keys or comma separated items.
func ParseQuery(values url.Values) (Filters, Sort, int, int, error) {
	var filters Filters
	for _, t := range splitList(values["types"]) {
		filters.Types = append(filters.Types, Type(t))
	}
	for _, l := range splitList(values["riskLevels"]) {
		filters.RiskLevels = append(filters.RiskLevels, RiskLevel(l))
	}
	filters.Search = values.Get("search")

	boolFields := []struct {
		key string
		dst **bool
	}{
		{"isOrphaned", &filters.IsOrphaned},
		{"isInactive", &filters.IsInactive},
		{"isPublic", &filters.IsPublic},
		{"isVerified", &filters.IsVerified},
		{"hasUnsubscribe", &filters.HasUnsubscribe},
	}
	for _, field := range boolFields {
		raw := strings.TrimSpace(values.Get(field.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Filters{}, Sort{}, 0, 0, Invalid("%s must be a boolean", field.key)
		}
		*field.dst = &v
	}

	sort := Sort{Field: SortField(values.Get("sort")), Order: SortOrder(values.Get("order"))}.Normalized()

	limit, err := intParam(values, "limit", DefaultLimit)
	if err != nil {
		return Filters{}, Sort{}, 0, 0, err
	}
	offset, err := intParam(values, "offset", 0)
	if err != nil {
		return Filters{}, Sort{}, 0, 0, err
	}

	filters = filters.Normalized()
	if err := ValidateQuery(filters, sort, limit, offset); err != nil {
		return Filters{}, Sort{}, 0, 0, err
	}
	return filters, sort, limit, offset, nil
}

func intParam(values url.Values, key string, def int) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, Invalid("%s must be an integer", key)
	}
	return n, nil
}

func splitList(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
