package engine

import (
	"errors"

	"papertrader/broker"
	"papertrader/market"
)

var (
	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrPositionNotFound  = errors.New("position not found")
	ErrOrderNotFound     = errors.New("order not found")

	// State conflicts: the operation arrived after a terminal
	// transition, or the ledger cannot cover the debit. Nothing is
	// mutated.
	ErrPositionAlreadyClosed = errors.New("position already closed")
	ErrOrderAlreadyTerminal  = errors.New("order already terminal")
	ErrInsufficientFunds     = errors.New("insufficient funds")

	// Validation failures, rejected before any state change.
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInvalidLevels      = errors.New("invalid stop loss or take profit level")
	ErrInvalidBarrier     = errors.New("invalid knockout barrier")
	ErrShortingNotAllowed = errors.New("shorting not allowed for product")
	ErrLeverageExceedsMax = errors.New("leverage exceeds product maximum")

	// ErrInvariantViolation means a debit that validation should have
	// prevented would take cash negative. The operation aborts and the
	// condition is logged loudly; it is a bug, not a user error.
	ErrInvariantViolation = errors.New("cash invariant violation")
)

// IsValidation reports whether err is a bad-input rejection the
// caller can fix and retry.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity,
		ErrInvalidPrice,
		ErrInvalidAmount,
		ErrInvalidOrder,
		ErrInvalidLevels,
		ErrInvalidBarrier,
		ErrShortingNotAllowed,
		ErrLeverageExceedsMax,
		broker.ErrUnknownProfile,
		broker.ErrUnknownProduct,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsStateConflict reports whether err means the operation lost a race
// with a terminal transition or exceeds available funds.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrPositionAlreadyClosed) ||
		errors.Is(err, ErrOrderAlreadyTerminal) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsNotFound reports whether err refers to an unknown portfolio,
// position or order.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPortfolioNotFound) ||
		errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsUnavailable reports whether err means a quote dependency was
// missing; callers retry next pass instead of failing.
func IsUnavailable(err error) bool {
	return errors.Is(err, market.ErrQuoteNotAvailable)
}
