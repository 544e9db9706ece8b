package supplier

import "errors"

var (
	ErrUnknownSupplier    = errors.New("unknown supplier")
	ErrNoProviderForModel = errors.New("no provider for model")
	ErrNotFound           = errors.New("client not found")
	ErrPoolEmpty          = errors.New("no live clients in pool")
	ErrSupplierInit       = errors.New("supplier init failed")
	// ErrClientUnavailable means the selected credential is failing and temporarily out of service.
	ErrClientUnavailable = errors.New("client temporarily unavailable")
)
