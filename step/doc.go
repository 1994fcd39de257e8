// Package step defines the named pipeline stages a work item moves
// through, the ordered Catalog that links them, and the persistence
// contract for the step table.
//
// The lease protocol itself is step-agnostic: it compares step IDs for
// equality and lets the caller name the next step. The Catalog is where
// the order lives.
package step
