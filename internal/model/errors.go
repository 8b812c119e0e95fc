package model

import "errors"

// Error taxonomy shared by every component. Callers test with errors.Is.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrInvalidInput        = errors.New("invalid input")
	ErrQuotaExceeded       = errors.New("memory quota exceeded")
	ErrBudgetTooSmall      = errors.New("token budget too small")
	ErrContextTooLarge     = errors.New("context too large for provider")
	ErrNotFound            = errors.New("memory not found")
)

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrProviderRateLimited)
}
