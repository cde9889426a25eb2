// Package storage is the SQL persistence layer.
//
// It backs the rule store (including the once-per-day claim), the push
// token registry, the read-only business queries used by rule handlers and
// the tick audit journal. Two drivers are supported: "sqlite" (modernc,
// pure Go) and "postgres" (pgx via database/sql).
package storage
