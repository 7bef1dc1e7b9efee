// Package persistence keeps the small amount of node state that must
// survive a restart: the runner armed on the primary and the last primary
// address a secondary connected to.
//
// Completed runs are not kept here; they live in the results store.
package persistence
