package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v's `validate` tags. Failures wrap models.ErrValidation
// and list the offending fields with the tag that failed.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	fields := ProcessValidationErrors(verrs)
	parts := make([]string, 0, len(fields))
	for field, tag := range fields {
		parts = append(parts, field+"="+tag)
	}
	sort.Strings(parts)
	return fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(parts, ", "))
}

func ProcessValidationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		out[ve.Field()] = ve.Tag()
	}
	return out
}
