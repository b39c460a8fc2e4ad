// Package stores persists scenarios, their graphs, runs and run logs.
//
// Two backends implement Store. SQLiteStore keeps relational tables managed by
// embedded golang-migrate migrations, with WAL mode and foreign keys enabled, and
// stores node configs as serialized JSON text. BadgerStore keeps JSON documents
// under key prefixes in an embedded Badger database and stores node configs
// structured; run and run log ids come from Badger sequences.
//
// Scenario documents in YAML seed either backend through ImportScenario.
package stores
