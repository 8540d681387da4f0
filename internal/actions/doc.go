// Package actions maps audited action kinds to concrete executors. The
// registry is what the queue processor consults when a queued action is
// due: fee collection claims from the fee vault, balance style actions
// read across chains, and unknown kinds are rejected before anything
// touches a chain.
package actions
