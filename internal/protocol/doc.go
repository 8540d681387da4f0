// Package protocol wraps the external commit-reveal accountability service.
// All cryptographic commitment, hashing, and on-chain state transitions live
// on the remote side; this package only provides the call/response surface
// the auditor sequences against, plus a JSON-over-HTTP implementation.
package protocol
