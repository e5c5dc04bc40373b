package models

import "github.com/uptrace/bun"

type FieldType string

const (
	FieldText     FieldType = "TEXT"
	FieldEmail    FieldType = "EMAIL"
	FieldPhone    FieldType = "PHONE"
	FieldNumber   FieldType = "NUMBER"
	FieldDate     FieldType = "DATE"
	FieldCheckbox FieldType = "CHECKBOX"
	FieldSelect   FieldType = "SELECT"
)

// FormField is an organizer-defined attendee question.
type FormField struct {
	bun.BaseModel `bun:"table:form_fields"`

	ID       string    `bun:"id,pk" json:"id"`
	EventID  string    `bun:"event_id,notnull" json:"eventId"`
	Key      string    `bun:"field_key,notnull" json:"key"`
	Label    string    `bun:"label,notnull" json:"label"`
	Type     FieldType `bun:"field_type,notnull" json:"type"`
	Required bool      `bun:"required,notnull" json:"required"`
	MinValue *float64  `bun:"min_value" json:"minValue,omitempty"`
	MaxValue *float64  `bun:"max_value" json:"maxValue,omitempty"`
	Options  []string  `bun:"options" json:"options,omitempty"`
	Position int       `bun:"position,notnull" json:"position"`
}
