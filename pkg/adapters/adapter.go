// Package adapters contains the provider adapter contract, the adapter
// registry, and the built-in adapters (stub, HTTPS proxy).
//
// An adapter implements the execution of one provider's API. Adapters
// receive the resolved credential as an opaque string and must never log
// it. Failures are reported as *moaterr.AdapterError so the gateway can
// classify them without leaking provider internals.
package adapters

import "context"

// Request carries one adapter invocation.
type Request struct {
	CapabilityID   string
	CapabilityName string
	Params         map[string]any
	// Credential is the resolved secret for the tenant's connection.
	// Opaque to the pipeline; never logged.
	Credential string
}

// Adapter executes capability invocations against one provider.
type Adapter interface {
	// ProviderName is the stable provider tag this adapter serves.
	ProviderName() string

	// Execute performs the invocation and returns the provider result.
	// Implementations honour ctx cancellation and their own timeout
	// ceilings.
	Execute(ctx context.Context, req Request) (map[string]any, error)
}
