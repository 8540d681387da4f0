// Package api exposes the REST surface used to submit treasury actions,
// inspect their audit evidence, and query balances and protocol fees. Every
// mutating endpoint goes through the commit-reveal pipeline; the API never
// executes an action directly.
package api
