package lending

import "errors"

// Exported errors form the failure taxonomy callers are expected to branch on
// with errors.Is. Every pool operation either succeeds fully or returns one of
// these (or a wrapped collaborator error) with no state mutated.
var (
	// ErrArithmetic signals overflow, underflow or a zero divisor inside the
	// fixed-point layer. Always fatal to the enclosing operation.
	ErrArithmetic = errors.New("lending engine: arithmetic failure")
	// ErrInsufficientLiquidity signals a withdraw, borrow or fee collection
	// that would exceed the pool's available cash.
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	// ErrUnauthorized signals a caller lacking the borrower or admin capability.
	ErrUnauthorized = errors.New("lending engine: caller not authorized")
	// ErrReentrancy signals a nested mutating call while another is in flight.
	ErrReentrancy = errors.New("lending engine: reentrant call rejected")
	// ErrNotInitialized signals an operation against a pool that was never
	// created.
	ErrNotInitialized = errors.New("lending engine: pool not initialised")
	// ErrPoolExists signals a second initialisation attempt.
	ErrPoolExists = errors.New("lending engine: pool already initialised")
	// ErrInvalidAmount signals a zero or missing operation amount.
	ErrInvalidAmount = errors.New("lending engine: amount must be positive")
	// ErrDustDeposit signals a deposit too small to mint a single share at the
	// current exchange rate.
	ErrDustDeposit = errors.New("lending engine: deposit too small for current exchange rate")
	// ErrNoDebt signals a repayment by an account with nothing outstanding.
	ErrNoDebt = errors.New("lending engine: no outstanding debt to repay")
	// ErrInvalidParams signals a rate model or fee outside its valid range.
	ErrInvalidParams = errors.New("lending engine: invalid rate parameters")
)

var (
	errNilState       = errors.New("lending engine: state not configured")
	errNilCustody     = errors.New("lending engine: asset custody not configured")
	errNilShareLedger = errors.New("lending engine: share ledger not configured")
	errFeeRecipient   = errors.New("lending engine: fee recipient not configured")
)
