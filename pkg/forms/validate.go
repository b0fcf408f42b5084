// Package forms holds the input state of the create/edit dialogs. Fields are
// kept as the strings the user typed; they are parsed only on submit.
package forms

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("money", isMoney)
		validate.RegisterValidation("positive", isPositive)
	})
	return validate
}

// moneyPattern is a plain decimal with at most two places: no sign, exponent,
// NaN or Inf.
var moneyPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)

// isMoney accepts non-negative numbers with at most two decimal places.
func isMoney(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	return s == "" || moneyPattern.MatchString(s)
}

func isPositive(fl validator.FieldLevel) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(fl.Field().String()), 64)
	return err == nil && v > 0
}

// ValidationError lists the invalid fields with a message each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "invalid form: " + strings.Join(parts, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "money":
		return "must be a non-negative amount with at most two decimals"
	case "positive":
		return "must be greater than zero"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	case "numeric":
		return "must be a number"
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}

// check validates v and converts validator errors into a ValidationError
// keyed by the fields' json names.
func check(v interface{}) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[jsonName(fe.Field())] = fieldMessage(fe)
	}
	return out
}

// jsonName turns a Go field name into the snake_case name the backend uses.
// A run of capitals is one word: CategoryID becomes category_id.
func jsonName(field string) string {
	runes := []rune(field)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseAmount(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
