// Package stores persists a ledger of callable builds in SQLite. Each build
// row records its inputs and outcome, with one row per phase record and an
// append-only event log. Schema changes are applied with embedded
// golang-migrate migrations.
package stores
