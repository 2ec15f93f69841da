// Package descriptor maps stable string keys to serialization descriptors.
// A descriptor turns a caller-supplied parameter value into the nested
// field map consumed by the expander, and exposes the per-audience field
// catalog used to author templates and recipient specs.
package descriptor

import "fmt"

// Audience selects which fields of a descriptor are relevant for a use:
// template bodies, email recipients, user recipients, group recipients or
// file attachments.
type Audience string

const (
	AudienceBody  Audience = "body"
	AudienceEmail Audience = "email"
	AudienceUser  Audience = "user"
	AudienceGroup Audience = "group"
	AudienceFile  Audience = "file"
)

// FieldSpec describes one addressable field of a descriptor. Fields is
// populated for object and list fields, mirroring the nesting the expander
// will flatten.
type FieldSpec struct {
	Name      string      `json:"name"`
	HumanName string      `json:"human_name"`
	Fields    []FieldSpec `json:"fields,omitempty"`
}

// Descriptor extracts a nested field map from a parameter value and reports
// which fields matter per audience.
type Descriptor interface {
	Fields(aud Audience) []FieldSpec
	Serialize(value interface{}) (interface{}, error)
}

// ScalarDescriptor passes a value through as its own scalar form. It has no
// addressable fields.
type ScalarDescriptor struct{}

func (ScalarDescriptor) Fields(Audience) []FieldSpec { return nil }

func (ScalarDescriptor) Serialize(value interface{}) (interface{}, error) {
	return value, nil
}

// FuncDescriptor builds a Descriptor from explicit per-audience field specs
// and a serialize function. This is the registry replacement for runtime
// class reflection: every object type registers one of these at startup.
type FuncDescriptor struct {
	FieldSpecs    map[Audience][]FieldSpec
	SerializeFunc func(value interface{}) (interface{}, error)
}

func (d *FuncDescriptor) Fields(aud Audience) []FieldSpec {
	return d.FieldSpecs[aud]
}

func (d *FuncDescriptor) Serialize(value interface{}) (interface{}, error) {
	if d.SerializeFunc == nil {
		return nil, fmt.Errorf("descriptor has no serialize function")
	}
	return d.SerializeFunc(value)
}
