// Package registry holds the catalogs of node, trigger and action definitions.
//
// Types are registered statically at process start. A Catalog bundles three
// independent Registry instances and resolves a node's declared type into a
// TypeInfo carrying its schema and capabilities:
//
//	catalog := registry.NewCatalog()
//	catalog.Nodes.MustRegister("send_sms", registry.NodeDefinition{
//	    Type:     "send_sms",
//	    Schema:   registry.NewStructSchema[SMSConfig](),
//	    Executor: registry.ExecutorFunc(sendSMS),
//	})
//	catalog.Seal()
//
// Capabilities are small interfaces (Executor, Migrator, Firer) with function
// adapters, selected at runtime by the type's string key.
//
// Schemas come in two flavours: CUESchema validates against a CUE definition
// and returns a plain object with defaults applied, StructSchema decodes into a
// Go struct and checks its validate tags.
package registry
