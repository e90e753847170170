package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaByType = map[string]string{
	TypeHello:  "hello.schema.json",
	TypeEdit:   "edit.schema.json",
	TypeStroke: "stroke.schema.json",
	TypeToggle: "toggle.schema.json",
	TypePlay:   "control.schema.json",
	TypeStop:   "control.schema.json",
	TypeStep:   "control.schema.json",
	TypeRule:   "rule.schema.json",
	TypeFrame:  "frame.schema.json",
}

// Validator checks raw messages against the embedded JSON schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}
	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for typ, name := range schemaByType {
		s, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate decodes b and checks it against the schema of its type. Unknown
// types are rejected.
func (v *Validator) Validate(b []byte) (BaseMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	s, ok := v.schemas[base.Type]
	if !ok {
		return base, fmt.Errorf("unknown message type %q", base.Type)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return base, err
	}
	return base, nil
}
