package types

import "fmt"

// ParamType is the declared storage type of a swept or measured parameter.
type ParamType string

const (
	// ParamNumeric is a scalar numeric value, stored as REAL.
	ParamNumeric ParamType = "numeric"

	// ParamText is a string value, stored as TEXT.
	ParamText ParamType = "text"

	// ParamArray is a float64 array value, stored as a BLOB of
	// little-endian float64 words.
	ParamArray ParamType = "array"
)

// Valid reports whether the paramtype is one of the recognized types.
func (p ParamType) Valid() bool {
	switch p {
	case ParamNumeric, ParamText, ParamArray:
		return true
	}
	return false
}

// SQLiteType returns the SQLite column type used to store this paramtype.
func (p ParamType) SQLiteType() string {
	switch p {
	case ParamNumeric:
		return "REAL"
	case ParamText:
		return "TEXT"
	case ParamArray:
		return "BLOB"
	default:
		return "BLOB"
	}
}

// ParamSpec describes a single parameter of a run's schema.
type ParamSpec struct {
	// Name is the parameter name, unique within a run
	Name string `json:"name"`

	// Unit is the physical unit label (e.g. "V", "s")
	Unit string `json:"unit"`

	// Type is the declared paramtype: numeric, text, array
	Type ParamType `json:"type"`

	// Independent marks setpoint parameters; dependent parameters
	// may be null for ragged sweeps
	Independent bool `json:"independent"`
}

// RunSchema is the ordered list of parameters a run records.
// It is fixed at run creation and never mutated afterwards.
type RunSchema struct {
	Params []ParamSpec `json:"params"`
}

// Validate checks that the schema is non-empty, that every paramtype is
// recognized, and that parameter names are unique.
func (s RunSchema) Validate() error {
	if len(s.Params) == 0 {
		return fmt.Errorf("schema must declare at least one parameter")
	}
	seen := make(map[string]struct{}, len(s.Params))
	for _, p := range s.Params {
		if p.Name == "" {
			return fmt.Errorf("parameter name must not be empty")
		}
		if !p.Type.Valid() {
			return fmt.Errorf("parameter %q has unknown paramtype %q", p.Name, p.Type)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Param returns the spec for the named parameter, if declared.
func (s RunSchema) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Names returns the parameter names in declaration order.
func (s RunSchema) Names() []string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return names
}
