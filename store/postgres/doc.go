// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: single-statement claims with FOR UPDATE SKIP LOCKED,
// transactional batch completion, Go-defined migrations per item table.
package postgres
