package models

import (
	"gorm.io/datatypes"
)

// FieldType is the declared type of a template field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
)

// FieldDefinition declares one field of a form template.
type FieldDefinition struct {
	Name     string    `json:"name" binding:"required"`
	Type     FieldType `json:"type" binding:"required,oneof=string number boolean date object array"`
	Required bool      `json:"required"`
	PHI      bool      `json:"phi"`
}

// FormTemplate is the form-type-specific schema a form is filled against
type FormTemplate struct {
	BaseModel
	Name     string                               `gorm:"size:255;not null" json:"name"`
	FormType FormType                             `gorm:"size:30;index" json:"formType"`
	Fields   datatypes.JSONSlice[FieldDefinition] `gorm:"type:json" json:"fields"`
}

// HasPHI reports whether any field of the template carries PHI.
func (t *FormTemplate) HasPHI() bool {
	for _, f := range t.Fields {
		if f.PHI {
			return true
		}
	}
	return false
}

// PHIFields returns the set of field names flagged as PHI.
func (t *FormTemplate) PHIFields() map[string]bool {
	out := make(map[string]bool)
	for _, f := range t.Fields {
		if f.PHI {
			out[f.Name] = true
		}
	}
	return out
}

// Field looks up a field definition by name.
func (t *FormTemplate) Field(name string) (FieldDefinition, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}
