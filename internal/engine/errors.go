package engine

import "errors"

var (
	ErrPaused            = errors.New("trading paused")
	ErrNotOwner          = errors.New("caller is not the owner")
	ErrInvalidLeverage   = errors.New("leverage out of bounds")
	ErrInvalidCollateral = errors.New("collateral out of bounds")
	ErrOrderNotExpirable = errors.New("expiry must be zero or in the future")
)
