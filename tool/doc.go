// Package tool defines the contract between an agent runtime and the
// operations it may call.
//
// The package is split by concern:
//   - manifest: tool descriptors (name, description, ordered inputs)
//   - result: the Success/Failure union returned to the runtime
//   - error: the failure taxonomy shared by adapters and provider clients
//   - registry: the fixed tool set assembled at startup
//   - validate: descriptor and input diagnostics
//
// Nothing here knows about a concrete provider, so the finance adapters, the
// HTTP API and the CLI share one descriptor and result contract.
package tool
