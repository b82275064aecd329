package domain

import "errors"

// Infrastructure-level sentinels returned by stores, caches and transports.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrLockHeld         = errors.New("lock already held")
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidHash      = errors.New("invalid hash")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ErrorClass groups ledger failures by cause.
type ErrorClass string

const (
	ClassAuthorization ErrorClass = "authorization"
	ClassValidation    ErrorClass = "validation"
	ClassState         ErrorClass = "state"
	ClassVerification  ErrorClass = "verification"
	ClassEconomic      ErrorClass = "economic"
	ClassNotFound      ErrorClass = "not_found"
)

// LedgerError is a precondition failure of a settlement operation. Code is a
// stable identifier safe to expose to callers.
type LedgerError struct {
	Code    string
	Class   ErrorClass
	Message string
}

func (e *LedgerError) Error() string { return e.Message }

func ledgerError(code string, class ErrorClass, msg string) *LedgerError {
	return &LedgerError{Code: code, Class: class, Message: msg}
}

var (
	ErrUnauthorized = ledgerError("Unauthorized", ClassAuthorization, "you are not authorized to perform this action")

	ErrQuestionTooLong = ledgerError("QuestionTooLong", ClassValidation, "question is too long, max 200 characters")
	ErrInvalidAmount   = ledgerError("InvalidAmount", ClassValidation, "amount must be greater than zero")
	ErrDeadlinePassed  = ledgerError("DeadlinePassed", ClassValidation, "deadline has already passed")
	ErrOverflow        = ledgerError("ArithmeticOverflow", ClassValidation, "amount would overflow a ledger counter")

	ErrAlreadyInitialized    = ledgerError("AlreadyInitialized", ClassState, "registry is already initialized")
	ErrMarketExists          = ledgerError("AlreadyExists", ClassState, "market id is already in use")
	ErrMarketNotOpen         = ledgerError("MarketNotOpen", ClassState, "market is not open for betting")
	ErrMarketAlreadyResolved = ledgerError("MarketAlreadyResolved", ClassState, "market is already resolved")
	ErrMarketNotResolved     = ledgerError("MarketNotResolved", ClassState, "market has not been resolved yet")
	ErrDeadlineNotPassed     = ledgerError("DeadlineNotPassed", ClassState, "deadline has not passed yet, market cannot be resolved")
	ErrAlreadyClaimed        = ledgerError("AlreadyClaimed", ClassState, "this position has already been claimed")
	ErrDuplicatePosition     = ledgerError("DuplicatePosition", ClassState, "a position already exists for this user on this market")
	ErrClaimWindowClosed     = ledgerError("ClaimWindowClosed", ClassState, "the claim window for this market has closed")
	ErrClaimWindowOpen       = ledgerError("ClaimWindowOpen", ClassState, "the claim window for this market is still open")
	ErrAlreadyFinalized      = ledgerError("AlreadyFinalized", ClassState, "market is already finalized")

	ErrInvalidCommitment = ledgerError("InvalidCommitment", ClassVerification, "commitment verification failed, wrong secret or position")

	ErrNotAWinner               = ledgerError("NotAWinner", ClassEconomic, "you did not bet on the winning outcome")
	ErrInsufficientFunds        = ledgerError("InsufficientFunds", ClassEconomic, "account balance is too low")
	ErrInsufficientVaultBalance = ledgerError("InsufficientVaultBalance", ClassEconomic, "vault does not have enough balance")

	ErrRegistryNotFound = ledgerError("RegistryNotFound", ClassNotFound, "registry has not been initialized")
	ErrMarketNotFound   = ledgerError("MarketNotFound", ClassNotFound, "market not found")
	ErrPositionNotFound = ledgerError("PositionNotFound", ClassNotFound, "position not found")
)

// CodeOf returns the stable code of the ledger error wrapped by err, or "" if
// err is not a ledger error.
func CodeOf(err error) string {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// ClassOf returns the class of the ledger error wrapped by err, or "" if err is
// not a ledger error.
func ClassOf(err error) ErrorClass {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Class
	}
	return ""
}
