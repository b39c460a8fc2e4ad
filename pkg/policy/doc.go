// Package policy gates scenario execution with Open Policy Agent (OPA) policies.
//
// Policies are Rego modules that define a `deny` set. They are evaluated against
// the scenario graph about to run:
//
//	{
//	    "scenario": {"id": ..., "name": ..., "enabled": ..., "trigger_key": ...},
//	    "nodes":    [{"id": ..., "type": ..., "label": ..., "config": {...}}],
//	    "edges":    [{"source": ..., "target": ...}],
//	    "context":  {"operation": ..., "environment": ..., "max_nodes": ...}
//	}
//
// Each deny member is a message string or an object with message, severity
// and node fields. Members without a severity take the policy's default.
// Error and critical findings deny the run; info and warning findings are
// logged.
//
// # Built-in Policies
//
//  1. node-limit - Rejects scenarios with more than max_nodes nodes
//  2. secure-http - Flags plain-HTTP calls to non-local hosts (blocking in production)
//  3. webhook-signing - Warns about unsigned webhook_send nodes
//  4. node-labels - Reports unlabeled nodes
//
// # Custom Policies
//
// Custom policies are loaded from .rego files, JSON policy documents and JSON
// bundles:
//
//	package custom.policies.email
//
//	import rego.v1
//
//	deny contains violation if {
//	    some node in input.nodes
//	    node.type == "http_request"
//	    contains(node.config.url, "internal.example.com")
//	    input.context.environment == "production"
//
//	    violation := {
//	        "message": "Production scenarios must not call the internal API",
//	        "severity": "error",
//	        "node": node.id,
//	    }
//	}
//
// # Hot Reload
//
// Engine.Watch watches the configured paths and swaps in the reloaded
// policies. Built-ins are always kept, and enable/disable decisions survive
// reloads.
package policy
