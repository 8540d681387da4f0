// Package auditor implements the commit-reveal audit cycle around
// treasury actions. An Auditor commits a hash of the caller's reasoning
// before the action runs, executes the action, then reveals where the
// full reasoning can be read. Completed cycles accumulate in an
// in-process SessionLedger.
//
// Failure semantics are deliberate: a commitment that precedes a failed
// action is kept as on-chain evidence of intent, and the action's error
// is returned to the caller untouched. The auditor never retries on the
// caller's behalf.
package auditor
