// Package treasury reads vault balances across configured chains and
// drives fee claims against the fee vault contract. It only talks to
// chains through the chain.Client interface so both live RPC endpoints
// and simulated backends work.
package treasury
