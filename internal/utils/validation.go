package utils

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"clinical-forms-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// Validate performs validation on a struct.
func Validate(s interface{}) error {
	return validate.Struct(s)
}

// FormatValidationError formats validation errors into a readable string.
func FormatValidationError(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok {
		var errorMessages []string
		for _, e := range errs {
			errorMessages = append(errorMessages, fmt.Sprintf("%s failed on %s", e.Field(), e.Tag()))
		}
		return strings.Join(errorMessages, ", ")
	}
	return err.Error()
}

// BindAndValidate binds the request body to a struct and validates it.
// If validation fails, it sends a BadRequest response and returns false.
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		BadRequest(c, "Invalid request payload: "+FormatValidationError(err))
		return false
	}
	if err := Validate(obj); err != nil {
		BadRequest(c, "Validation failed: "+FormatValidationError(err))
		return false
	}
	return true
}

// ValidateFormData checks data against the template's field definitions:
// unknown fields are rejected and values must match the declared type. With
// partial set, absent required fields are allowed but clearing them is not.
func ValidateFormData(tmpl *models.FormTemplate, data map[string]interface{}, partial bool) error {
	var problems []string

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := tmpl.Field(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s is not a field of %s", name, tmpl.Name))
			continue
		}
		value := data[name]
		if value == nil {
			if field.Required {
				problems = append(problems, fmt.Sprintf("%s is required", name))
			}
			continue
		}
		if !matchesType(field.Type, value) {
			problems = append(problems, fmt.Sprintf("%s must be of type %s", name, field.Type))
		}
	}

	if !partial {
		for _, field := range tmpl.Fields {
			if _, present := data[field.Name]; field.Required && !present {
				problems = append(problems, fmt.Sprintf("%s is required", field.Name))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func matchesType(t models.FieldType, value interface{}) bool {
	switch t {
	case models.FieldString:
		_, ok := value.(string)
		return ok
	case models.FieldNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case models.FieldBoolean:
		_, ok := value.(bool)
		return ok
	case models.FieldDate:
		s, ok := value.(string)
		if !ok {
			return false
		}
		if _, err := time.Parse(time.RFC3339, s); err == nil {
			return true
		}
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	case models.FieldObject:
		_, ok := value.(map[string]interface{})
		return ok
	case models.FieldArray:
		_, ok := value.([]interface{})
		return ok
	}
	return false
}
