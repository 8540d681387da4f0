// Package reasoning defines the structured rationale an agent submits before
// executing a treasury action, and the pure transformation into the trace
// shape expected by the external commit-reveal protocol. Action kinds and
// risk levels are closed enumerations so that invalid states are rejected at
// the boundary instead of deep inside the audit pipeline.
package reasoning
