package actions

import (
	"context"
	"maps"

	"dario.cat/mergo"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
)

// Transform modes.
const (
	TransformScript = "script"
	TransformMerge  = "merge"
	TransformPick   = "pick"
)

// DataTransformConfig configures the data_transform action.
type DataTransformConfig struct {
	Mode string `json:"mode" validate:"required,oneof=script merge pick"`

	// Script is Starlark source. The input data is bound to `input`; the result
	// is the `output` global, or every public global when output is unset.
	Script string `json:"script,omitempty" validate:"required_if=Mode script"`

	// Merge is deep-merged into the input data.
	Merge map[string]interface{} `json:"merge,omitempty" validate:"required_if=Mode merge"`

	// Override lets Merge values replace existing input values.
	Override bool `json:"override,omitempty"`

	// Fields lists the top-level keys kept by pick.
	Fields []string `json:"fields,omitempty" validate:"required_if=Mode pick,dive,required"`
}

func dataTransformDefinition(opts Options) registry.ActionDefinition {
	t := &transformer{scripts: &scriptEvaluator{timeout: opts.ScriptTimeout}}
	return registry.ActionDefinition{
		Type:        TypeDataTransform,
		Description: "Reshapes node input with a Starlark script, a static merge, or a field pick",
		Category:    CategoryTransform,
		InputSchema: registry.NewStructSchema[DataTransformConfig](),
		Executor:    registry.ExecutorFunc(t.execute),
		Migrator:    registry.MigratorFunc(migrateDataTransform),
	}
}

type transformer struct {
	scripts *scriptEvaluator
}

func (t *transformer) execute(ctx context.Context, ec registry.ExecutionContext, input engine.NodeIO, config interface{}) (engine.NodeIO, error) {
	cfg, err := decodeConfig[DataTransformConfig](config)
	if err != nil {
		return engine.NodeIO{}, err
	}

	normalized, err := engine.NormalizeValue(input.Data)
	if err != nil {
		return engine.NodeIO{}, engine.NewError(engine.ErrCodeInvalidInput, "input data is not serializable", err)
	}
	data, _ := normalized.(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}

	var result map[string]interface{}
	switch cfg.Mode {
	case TransformScript:
		result, err = t.scripts.evaluate(ctx, cfg.Script, data)
		if err != nil {
			// Script errors are deterministic; retrying cannot help.
			return engine.NodeIO{}, engine.NewError(engine.ErrCodeInvalidInput, "transform script failed", err).
				WithRetryable(false)
		}

	case TransformMerge:
		result = data
		mergeOpts := []func(*mergo.Config){mergo.WithAppendSlice}
		if cfg.Override {
			mergeOpts = append(mergeOpts, mergo.WithOverride)
		}
		if err := mergo.Merge(&result, cfg.Merge, mergeOpts...); err != nil {
			return engine.NodeIO{}, engine.NewError(engine.ErrCodeInvalidInput, "merge failed", err)
		}

	case TransformPick:
		result = make(map[string]interface{}, len(cfg.Fields))
		for _, f := range cfg.Fields {
			if v, ok := data[f]; ok {
				result[f] = v
			}
		}

	default:
		return engine.NodeIO{}, engine.Errorf(engine.ErrCodeInvalidConfig, "unknown transform mode %q", cfg.Mode)
	}

	ec.Logger.Debug().Str("mode", cfg.Mode).Int("keys", len(result)).Msg("Data transformed")

	out := engine.NewNodeIO(input.CorrelationID, result)
	out.Metadata["transform_mode"] = cfg.Mode
	return out, nil
}

// migrateDataTransform upgrades legacy configs that carried a bare `expression`
// or a script without a mode.
func migrateDataTransform(old interface{}) (interface{}, error) {
	cfg, err := engine.ParseConfig(old)
	if err != nil {
		return nil, err
	}

	out := maps.Clone(cfg)
	if expr, ok := out["expression"]; ok {
		if _, has := out["script"]; !has {
			out["script"] = expr
		}
		delete(out, "expression")
	}
	if _, has := out["mode"]; !has {
		switch {
		case out["script"] != nil:
			out["mode"] = TransformScript
		case out["merge"] != nil:
			out["mode"] = TransformMerge
		case out["fields"] != nil:
			out["mode"] = TransformPick
		}
	}
	return out, nil
}
