// Package sqlite persists pipeline run records in a SQLite database.
//
// The schema is managed by golang-migrate from migrations embedded in the
// binary; OpenRunStore applies any pending ones before returning.
package sqlite
