// Package tools defines the ticket operations exposed to the model and
// dispatches tool calls against the ticket API.
//
// Instead of parsing model text output, we define structured contracts
// that models fill via tool calls.
package tools

// Schema defines a JSON Schema for tool parameters.
// This is sent to the model so it knows the exact structure to return.
type Schema struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// Property defines a single property in a JSON Schema.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Default     any       `json:"default,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
}

// ObjectSchema creates a schema for an object type with the given properties.
func ObjectSchema(props map[string]Property, required ...string) Schema {
	return Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// StringProperty creates a string property.
func StringProperty(desc string) Property {
	return Property{
		Type:        "string",
		Description: desc,
	}
}

// StringEnumProperty creates a string property constrained to specific values.
func StringEnumProperty(desc string, values ...string) Property {
	return Property{
		Type:        "string",
		Description: desc,
		Enum:        values,
	}
}

// IntProperty creates an integer property.
func IntProperty(desc string) Property {
	return Property{
		Type:        "integer",
		Description: desc,
	}
}

// ToMap renders the schema as a generic map for provider payloads.
func (s Schema) ToMap() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, prop := range s.Properties {
		props[name] = prop.toMap()
	}

	out := map[string]any{
		"type":       s.Type,
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	return out
}

func (p Property) toMap() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = p.Items.toMap()
	}
	if p.Default != nil {
		out["default"] = p.Default
	}
	if p.Minimum != nil {
		out["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		out["maximum"] = *p.Maximum
	}
	return out
}
