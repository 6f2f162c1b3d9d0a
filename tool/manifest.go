package tool

import (
	"encoding/json"
	"slices"
)

// ParamType is the semantic type of a tool input.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeDate    ParamType = "date"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// DateLayout is the accepted wire format for date inputs.
const DateLayout = "2006-01-02"

// Param declares one tool input.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// Descriptor is what the agent sees when choosing a tool: a stable name, a
// natural-language description, and the ordered input contract.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Inputs      []Param `json:"inputs"`
}

// Param returns the named input declaration.
func (d Descriptor) Param(name string) (Param, bool) {
	idx := slices.IndexFunc(d.Inputs, func(p Param) bool { return p.Name == name })
	if idx < 0 {
		return Param{}, false
	}
	return d.Inputs[idx], true
}

// RequiredNames returns required input names in declaration order.
func (d Descriptor) RequiredNames() []string {
	names := make([]string, 0, len(d.Inputs))
	for _, p := range d.Inputs {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// JSONSchema renders the inputs as a JSON Schema object for model runtimes.
func (d Descriptor) JSONSchema() map[string]any {
	properties := make(map[string]any, len(d.Inputs))
	for _, p := range d.Inputs {
		properties[p.Name] = paramSchema(p)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             d.RequiredNames(),
		"additionalProperties": false,
	}
}

// RawSchema is JSONSchema encoded as JSON.
func (d Descriptor) RawSchema() json.RawMessage {
	// A map of strings, bools and slices always encodes.
	raw, _ := json.Marshal(d.JSONSchema())
	return raw
}

func paramSchema(p Param) map[string]any {
	schema := map[string]any{}
	switch p.Type {
	case TypeDate:
		schema["type"] = "string"
		schema["format"] = "date"
	case TypeNumber, TypeInteger, TypeBoolean:
		schema["type"] = string(p.Type)
	default:
		schema["type"] = "string"
	}
	if p.Description != "" {
		schema["description"] = p.Description
	}
	return schema
}
