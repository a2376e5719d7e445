package domain

import (
	"errors"
	"fmt"
	"html"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxNameLength          = 30
	MaxDescriptionLength   = 1000
	MaxBudgetExplainLength = 200
	MaxWeekPlanLength      = 500
	MaxURLLength           = 500
)

// Limits are the configurable capacity rules.
type Limits struct {
	MinCapacity int
	MaxCapacity int
	// MinStartMembers is the member count Start requires. It never exceeds
	// MinCapacity, so every valid capacity can reach it.
	MinStartMembers   int
	MaxActivePerMonth int
}

func DefaultLimits() Limits {
	return Limits{MinCapacity: 2, MaxCapacity: 20, MinStartMembers: 2, MaxActivePerMonth: 2}
}

func (l Limits) Validate() error {
	switch {
	case l.MinCapacity < 2:
		return errors.New("min_capacity must be >= 2")
	case l.MaxCapacity < l.MinCapacity:
		return errors.New("max_capacity must be >= min_capacity")
	case l.MinStartMembers < 1 || l.MinStartMembers > l.MinCapacity:
		return errors.New("min_start_members must be within 1..min_capacity")
	case l.MaxActivePerMonth < 1:
		return errors.New("max_active_per_month must be >= 1")
	}
	return nil
}

// StudyInfo is the leader-editable content of a study.
type StudyInfo struct {
	Name            string    `json:"name" validate:"required,max=30"`
	Description     string    `json:"description" validate:"required,max=1000"`
	Capacity        int       `json:"capacity"`
	Budget          Budget    `json:"budget" validate:"required,oneof=NONE BOOK MEAL ROOM ETC"`
	BudgetExplain   string    `json:"budget_explain" validate:"max=200"`
	Plan            [4]string `json:"plan" validate:"dive,max=500"`
	ExternalChatURL string    `json:"external_chat_url" validate:"omitempty,max=500,http_url"`
	ReferenceURL    string    `json:"reference_url" validate:"omitempty,max=500,http_url"`
	Tags            []string  `json:"tags"`
}

var (
	validate = newValidator()
	strip    = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// cleanText trims s and removes any markup, leaving plain text.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.TrimSpace(html.UnescapeString(strip.Sanitize(s)))
}

// Normalize trims and sanitizes every text field, normalizes tags and
// validates the result. All field problems are reported together as
// FieldErrors.
func (in StudyInfo) Normalize(l Limits) (StudyInfo, error) {
	out := in
	out.Name = cleanText(in.Name)
	out.Description = cleanText(in.Description)
	out.BudgetExplain = cleanText(in.BudgetExplain)
	out.Budget = Budget(strings.ToUpper(strings.TrimSpace(string(in.Budget))))
	for i := range out.Plan {
		out.Plan[i] = cleanText(in.Plan[i])
	}
	out.ExternalChatURL = strings.TrimSpace(in.ExternalChatURL)
	out.ReferenceURL = strings.TrimSpace(in.ReferenceURL)

	var errs FieldErrors
	if err := validate.Struct(out); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return StudyInfo{}, err
		}
		for _, fe := range ve {
			errs = append(errs, &FieldError{Field: fe.Field(), Reason: describe(fe)})
		}
	}
	if out.Capacity < l.MinCapacity || out.Capacity > l.MaxCapacity {
		errs = append(errs, &FieldError{Field: "capacity", Reason: fmt.Sprintf("must be between %d and %d", l.MinCapacity, l.MaxCapacity)})
	}
	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		var fe *FieldError
		if !errors.As(err, &fe) {
			return StudyInfo{}, err
		}
		errs = append(errs, fe)
	}
	out.Tags = tags

	if len(errs) > 0 {
		return StudyInfo{}, errs
	}
	return out, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "http_url":
		return "must be an http or https URL"
	default:
		return "is invalid"
	}
}
