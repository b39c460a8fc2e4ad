package registry

import (
	"sort"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// Catalog bundles the node, trigger and action registries that describe every
// type a scenario may use. It is constructed once at start-up and injected into
// the runner, the dry-run simulator and the migration engine.
type Catalog struct {
	Nodes    *Registry[NodeDefinition]
	Triggers *Registry[TriggerDefinition]
	Actions  *Registry[ActionDefinition]
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Nodes:    New[NodeDefinition]("node type", engine.ErrCodeNodeNotFound),
		Triggers: New[TriggerDefinition]("trigger", engine.ErrCodeTriggerNotFound),
		Actions:  New[ActionDefinition]("action", engine.ErrCodeActionNotFound),
	}
}

// RegisterNode registers a node definition under its type.
func (c *Catalog) RegisterNode(def NodeDefinition) error {
	return c.Nodes.Register(def.Type, def)
}

// RegisterTrigger registers a trigger definition under its key.
func (c *Catalog) RegisterTrigger(def TriggerDefinition) error {
	return c.Triggers.Register(def.Key, def)
}

// RegisterAction registers an action definition under its type.
func (c *Catalog) RegisterAction(def ActionDefinition) error {
	return c.Actions.Register(def.Type, def)
}

// Seal freezes all three registries.
func (c *Catalog) Seal() {
	c.Nodes.Seal()
	c.Triggers.Seal()
	c.Actions.Seal()
}

// Lookup resolves a node type against the node definitions first, then the
// action definitions. Unknown types are NODE_NOT_FOUND.
func (c *Catalog) Lookup(nodeType string) (TypeInfo, error) {
	if def, err := c.Nodes.Get(nodeType); err == nil {
		return nodeTypeInfo(def), nil
	}
	if def, err := c.Actions.Get(nodeType); err == nil {
		return actionTypeInfo(def), nil
	}
	return TypeInfo{}, engine.Errorf(engine.ErrCodeNodeNotFound, "node type %q is not registered", nodeType)
}

// Trigger returns the trigger definition for key.
func (c *Catalog) Trigger(key string) (TriggerDefinition, error) {
	return c.Triggers.Get(key)
}

// Types lists every resolvable node type, sorted by type. A node definition
// shadows an action of the same type.
func (c *Catalog) Types() []TypeInfo {
	seen := make(map[string]bool)
	var types []TypeInfo

	for _, def := range c.Nodes.GetAll() {
		seen[def.Type] = true
		types = append(types, nodeTypeInfo(def))
	}
	for _, def := range c.Actions.GetAll() {
		if seen[def.Type] {
			continue
		}
		types = append(types, actionTypeInfo(def))
	}

	sort.Slice(types, func(i, j int) bool {
		return types[i].Type < types[j].Type
	})
	return types
}

func nodeTypeInfo(def NodeDefinition) TypeInfo {
	return TypeInfo{
		Type:          def.Type,
		Kind:          KindNode,
		Category:      def.Category,
		Description:   def.Description,
		SchemaVersion: def.SchemaVersion,
		Schema:        def.Schema,
		Executor:      def.Executor,
		Migrator:      def.Migrator,
	}
}

func actionTypeInfo(def ActionDefinition) TypeInfo {
	return TypeInfo{
		Type:         def.Type,
		Kind:         KindAction,
		Category:     def.Category,
		Description:  def.Description,
		Schema:       def.InputSchema,
		OutputSchema: def.OutputSchema,
		Executor:     def.Executor,
		Migrator:     def.Migrator,
	}
}
