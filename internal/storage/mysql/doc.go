// Package mysql provides the audit archive backed by MySQL. It persists the
// full commit-reveal evidence of every executed treasury action so records
// survive process restarts and can be inspected long after the in-memory
// session ledger is gone. A JSONL-backed archive with the same interface is
// available for local development.
package mysql
