// Package migration upgrades persisted node configurations.
//
// Node types may declare a migrate capability that rewrites an older config
// shape into the current one. A Migrator runs it for a single node or for every
// node of a scenario, validates the result against the target type's schema and
// persists only what changed. Dry runs never write.
package migration
