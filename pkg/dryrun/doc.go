// Package dryrun previews scenarios without side effects.
//
// A Simulator loads the same graph the runner would execute, orders it the same
// way and routes inputs the same way, but replaces every executor with a mock
// output generator chosen by the node's category or type name. Configuration of
// registered types is still validated, so a preview surfaces the config errors
// a real run would hit.
//
// When no trigger payload is supplied, one is synthesized from the trigger's
// registered sample or a built-in shape for common trigger kinds.
package dryrun
