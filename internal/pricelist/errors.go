package pricelist

import "errors"

// Domain errors for price lists.
var (
	// ErrNotFound indicates no applicable list or price for the request.
	ErrNotFound = errors.New("pricelist: not found")

	// Validation errors.
	ErrValidation            = errors.New("pricelist: invalid input")
	ErrInvalidPrice          = errors.New("pricelist: invalid price")
	ErrEmptyPriceList        = errors.New("pricelist: price list has no items")
	ErrEffectiveDateRequired = errors.New("pricelist: effective date required")
	ErrDuplicateProduct      = errors.New("pricelist: product already in list")
	ErrDuplicateDraft        = errors.New("pricelist: another draft already uses this effective date")
	ErrImmutable             = errors.New("pricelist: current or superseded list cannot be edited")

	// Concurrency errors. Both are safe to retry after re-reading state.
	ErrConcurrentPromotion = errors.New("pricelist: concurrent promotion on scope")
	ErrConflict            = errors.New("pricelist: concurrent modification")
)

// Retryable reports whether err is a lost race the caller may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentPromotion) || errors.Is(err, ErrConflict)
}
