package order

import (
	"context"
	"errors"
	"fmt"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/models"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// FormSchemaProvider returns the attendee questions an event asks.
type FormSchemaProvider interface {
	RequiredFieldsFor(ctx context.Context, eventID string) ([]models.FormField, error)
}

// DBForms reads form fields from the orders database.
type DBForms struct {
	DB *db.DB
}

func (f DBForms) RequiredFieldsFor(ctx context.Context, eventID string) ([]models.FormField, error) {
	return f.DB.FieldsFor(ctx, eventID)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

// validateAttendee checks the fixed attendee fields and every form answer.
// label identifies the attendee in error messages.
func validateAttendee(label string, a models.AttendeeData, fields []models.FormField) error {
	if err := validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return apperr.Validation("%s: %s is required", label, strings.ToLower(fe.Field()))
			}
			return apperr.Validation("%s: %s is not a valid %s", label, strings.ToLower(fe.Field()), fe.Tag())
		}
		return apperr.Validation("%s: %v", label, err)
	}

	for _, f := range fields {
		v, present := a.FormResponses[f.Key]
		if !present || isBlank(v) {
			if f.Required {
				return apperr.Validation("%s: %s is required", label, f.Label)
			}
			continue
		}
		if err := checkField(f, v); err != nil {
			return apperr.Validation("%s: %s %v", label, f.Label, err)
		}
	}
	return nil
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

func checkField(f models.FormField, v any) error {
	switch f.Type {
	case models.FieldEmail:
		s, ok := v.(string)
		if !ok || validate.Var(s, "email") != nil {
			return fmt.Errorf("must be a valid email")
		}
	case models.FieldPhone:
		s, ok := v.(string)
		if !ok || countDigits(s) < 10 {
			return fmt.Errorf("must have at least 10 digits")
		}
	case models.FieldNumber:
		n, err := toNumber(v)
		if err != nil {
			return fmt.Errorf("must be a number")
		}
		if f.MinValue != nil && n < *f.MinValue {
			return fmt.Errorf("must be at least %v", *f.MinValue)
		}
		if f.MaxValue != nil && n > *f.MaxValue {
			return fmt.Errorf("must be at most %v", *f.MaxValue)
		}
	case models.FieldDate:
		s, ok := v.(string)
		if !ok || !parsesAsDate(s) {
			return fmt.Errorf("must be a date")
		}
	case models.FieldCheckbox:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("must be true or false")
		}
		if f.Required && !b {
			return fmt.Errorf("must be accepted")
		}
	case models.FieldSelect:
		s, ok := v.(string)
		if !ok || (len(f.Options) > 0 && !slices.Contains(f.Options, s)) {
			return fmt.Errorf("must be one of %s", strings.Join(f.Options, ", "))
		}
	}
	return nil
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func toNumber(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case fmt.Stringer:
		return strconv.ParseFloat(x.String(), 64)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

func parsesAsDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return true
		}
	}
	return false
}
