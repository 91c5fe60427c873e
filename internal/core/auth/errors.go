package auth

import "errors"

// Authentication errors. Missing and invalid keys never confirm that a key
// exists; only a revoked key does.
var (
	ErrMissingKey       = errors.New("API key required in X-API-Key header")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrNoSecrets        = errors.New("no HMAC secret configured")
)
