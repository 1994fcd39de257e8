// Package item defines the work item, its status machine, and the store
// contract that every backend implements.
//
// A work item is an envelope: the lease fields (owner, status, step,
// attempt, error, timestamps) are fixed, and the concrete work-item type
// travels in Payload. The claim, reclaim, and complete rules are written
// once in transition.go. SQL backends re-express them as statements; the
// document, table, key-value, and memory backends apply them directly.
package item
