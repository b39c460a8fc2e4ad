package registry

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	gojson "github.com/goccy/go-json"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// CUESchema validates configs against a CUE definition.
//
// The value is unified with the definition and must be concrete afterwards, so
// closed definitions reject unknown fields and defaults are filled in. The
// validated value is returned as a plain JSON object.
type CUESchema struct {
	mu         sync.Mutex
	ctx        *cue.Context
	definition cue.Value
	name       string
}

// NewCUESchema compiles source and selects the definition named def, e.g. "#HTTPRequest".
func NewCUESchema(source, def string) (*CUESchema, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", def, err)
	}

	definition := val.LookupPath(cue.ParsePath(def))
	if err := definition.Err(); err != nil {
		return nil, fmt.Errorf("schema definition %s not found: %w", def, err)
	}

	return &CUESchema{ctx: ctx, definition: definition, name: def}, nil
}

// MustCUESchema is NewCUESchema for package-level schemas; it panics on error.
func MustCUESchema(source, def string) *CUESchema {
	s, err := NewCUESchema(source, def)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the definition name.
func (s *CUESchema) Name() string {
	return s.name
}

// Validate implements Schema.
func (s *CUESchema) Validate(value interface{}) (interface{}, []Violation) {
	if value == nil {
		value = map[string]interface{}{}
	}

	// JSON is valid CUE; going through it keeps integral numbers as ints.
	data, err := gojson.Marshal(value)
	if err != nil {
		return nil, []Violation{{Message: fmt.Sprintf("value is not serializable: %v", err)}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dataVal := s.ctx.CompileBytes(data)
	if err := dataVal.Err(); err != nil {
		return nil, cueViolations(err)
	}

	unified := s.definition.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueViolations(err)
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, cueViolations(err)
	}

	var validated map[string]interface{}
	if err := engine.DecodeJSON(out, &validated); err != nil {
		return nil, []Violation{{Message: fmt.Sprintf("validated value is not an object: %v", err)}}
	}
	return validated, nil
}

// cueViolations flattens a CUE error list.
func cueViolations(err error) []Violation {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []Violation{{Message: err.Error()}}
	}

	violations := make([]Violation, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		violations = append(violations, Violation{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return violations
}
