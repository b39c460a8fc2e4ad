// Package runner executes scenarios.
//
// A Runner loads a scenario's graph, orders its nodes topologically and runs
// them one at a time. Each node's executor is invoked under a named retry
// policy; only retryable errors are retried. Execution stops at the first
// failing node.
//
// Only the first upstream edge of a node feeds its input. Multi-input nodes see
// the output of whichever edge comes first in the scenario's edge list.
//
// Run status is owned by the Lifecycle, which enforces
// pending -> running -> {succeeded | failed | cancelled} and records a run log
// entry for every terminal transition. Fatal failures and failures that
// exhausted their retries are additionally dead-lettered: a durable run log
// entry flagged for operator review. Nobody is paged.
//
// A Dispatcher runs independent trigger events concurrently with a bound.
package runner
