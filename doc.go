// Package bake defines the core identifiers, error codes, and backend
// capability contract shared by BAKE's storage backends and provider
// dispatch layer. It provides target and region identifiers, the closed
// error enumeration returned by every operation, and shared logging and
// retry helpers used throughout the module.
//
// Concrete backends live in the filebackend and membackend packages.
// The registry package tracks targets attached to one provider; the
// provider package binds RPC endpoints onto the registry and backends.
package bake
