package policy

// DefaultMaxNodes is the node-count limit used when the context sets none.
const DefaultMaxNodes = 100

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		nodeLimitPolicy(),
		secureHTTPPolicy(),
		webhookSigningPolicy(),
		nodeLabelsPolicy(),
	}
}

// nodeLimitPolicy caps the number of nodes in a scenario.
func nodeLimitPolicy() Policy {
	return Policy{
		Name:        "node-limit",
		Description: "Rejects scenarios with more nodes than the configured limit",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"limits"},
		Rego: `package scenarioflow.policies.limits

import rego.v1

deny contains violation if {
	input.context.max_nodes > 0
	count(input.nodes) > input.context.max_nodes
	violation := {
		"message": sprintf("Scenario %s has %d nodes, the limit is %d", [input.scenario.id, count(input.nodes), input.context.max_nodes]),
		"severity": "error",
	}
}`,
	}
}

// secureHTTPPolicy flags plain-HTTP calls to non-local hosts. It blocks in
// production and warns elsewhere.
func secureHTTPPolicy() Policy {
	return Policy{
		Name:        "secure-http",
		Description: "Flags nodes that call non-local endpoints over plain HTTP",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"security", "http"},
		Rego: `package scenarioflow.policies.http

import rego.v1

insecure_severity := "error" if {
	input.context.environment == "production"
} else := "warning"

local_prefixes := ["http://localhost", "http://127.0.0.1", "http://[::1]"]

is_local(url) if {
	some prefix in local_prefixes
	startswith(url, prefix)
}

deny contains violation if {
	some node in input.nodes
	url := node.config.url
	is_string(url)
	startswith(lower(url), "http://")
	not is_local(lower(url))
	violation := {
		"message": sprintf("Node %s calls %s over plain HTTP", [node.id, url]),
		"severity": insecure_severity,
		"node": node.id,
	}
}`,
	}
}

// webhookSigningPolicy asks for a signing secret on outgoing webhooks.
func webhookSigningPolicy() Policy {
	return Policy{
		Name:        "webhook-signing",
		Description: "Warns about webhook_send nodes without a signing secret",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"security", "webhook"},
		Rego: `package scenarioflow.policies.webhook

import rego.v1

deny contains violation if {
	some node in input.nodes
	node.type == "webhook_send"
	not node.config.secret
	violation := {
		"message": sprintf("Webhook node %s is not signed; receivers cannot verify its origin", [node.id]),
		"node": node.id,
	}
}`,
	}
}

// nodeLabelsPolicy reports unlabeled nodes.
func nodeLabelsPolicy() Policy {
	return Policy{
		Name:        "node-labels",
		Description: "Reports nodes without a display label",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"conventions"},
		Rego: `package scenarioflow.policies.labels

import rego.v1

deny contains violation if {
	some node in input.nodes
	not node.label
	violation := {
		"message": sprintf("Node %s has no label", [node.id]),
		"node": node.id,
	}
}`,
	}
}
