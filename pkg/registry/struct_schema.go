package registry

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	gojson "github.com/goccy/go-json"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

var defaultValidator = validator.New(validator.WithRequiredStructEnabled())

// StructSchema validates configs by decoding them into T and checking T's
// validate tags. The validated value is the typed T.
type StructSchema[T any] struct {
	validate *validator.Validate
}

// NewStructSchema creates a schema for T using the shared validator.
func NewStructSchema[T any]() *StructSchema[T] {
	return &StructSchema[T]{validate: defaultValidator}
}

// Validate implements Schema.
func (s *StructSchema[T]) Validate(value interface{}) (interface{}, []Violation) {
	var typed T

	if value != nil {
		if already, ok := value.(T); ok {
			typed = already
		} else {
			data, err := gojson.Marshal(value)
			if err != nil {
				return nil, []Violation{{Message: fmt.Sprintf("value is not serializable: %v", err)}}
			}
			if err := engine.DecodeJSON(data, &typed); err != nil {
				return nil, []Violation{{Message: fmt.Sprintf("value does not match %T: %v", typed, err)}}
			}
		}
	}

	if err := s.validate.Struct(typed); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, []Violation{{Message: err.Error()}}
		}
		violations := make([]Violation, 0, len(verrs))
		for _, fe := range verrs {
			violations = append(violations, Violation{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
			})
		}
		return nil, violations
	}

	return typed, nil
}
