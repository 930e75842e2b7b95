package provider

import "context"

// Provider is the outbound SMS channel port. Implementations must not retry
// internally; retry policy belongs to reminder selection.
type Provider interface {
	Send(ctx context.Context, phone, message string) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for audit and reconciliation.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
