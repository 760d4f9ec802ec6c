// Package xerrors defines the sealed error taxonomy shared by every
// component of the trade-execution core (§7 ERROR HANDLING DESIGN).
// Each kind wraps an underlying cause and supports errors.Is/errors.As
// via Unwrap, the same pattern the exchange package's ExchangeError used
// for a single case, generalized module-wide.
package xerrors

import "errors"

// StorageKind distinguishes the three flavors of storage error. Transient
// errors are safe to retry once by the caller; Corrupt and Integrity are
// fatal and propagate to the Safe-Mode Controller.
type StorageKind string

const (
	StorageTransient StorageKind = "transient"
	StorageCorrupt   StorageKind = "corrupt"
	StorageIntegrity StorageKind = "integrity"
)

// StorageError wraps a Durable Store failure with its severity kind.
type StorageError struct {
	Kind     StorageKind
	Op       string
	Original error
}

func (e *StorageError) Error() string {
	return "storage(" + string(e.Kind) + ") " + e.Op + ": " + e.Original.Error()
}

func (e *StorageError) Unwrap() error { return e.Original }

// Fatal reports whether this storage error must latch safe-mode.
func (e *StorageError) Fatal() bool {
	return e.Kind == StorageCorrupt || e.Kind == StorageIntegrity
}

func NewStorageError(kind StorageKind, op string, cause error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Original: cause}
}

// NetworkError is a retryable exchange-adapter failure (connectivity,
// timeout framing, rate limiting) that has not yet exhausted retry.
type NetworkError struct {
	Op       string
	Original error
}

func (e *NetworkError) Error() string { return "network: " + e.Op + ": " + e.Original.Error() }
func (e *NetworkError) Unwrap() error { return e.Original }

func NewNetworkError(op string, cause error) *NetworkError {
	return &NetworkError{Op: op, Original: cause}
}

// APIFailure is raised once retry is exhausted on a NetworkError, or an
// exchange call fails in a way that counts against the API-failure streak.
type APIFailure struct {
	Op       string
	Original error
}

func (e *APIFailure) Error() string { return "api failure: " + e.Op + ": " + e.Original.Error() }
func (e *APIFailure) Unwrap() error { return e.Original }

func NewAPIFailure(op string, cause error) *APIFailure {
	return &APIFailure{Op: op, Original: cause}
}

// TimeoutError signals an exchange call that neither confirmed nor clearly
// failed; the caller polls order status to resolve it.
type TimeoutError struct {
	OrderID  string
	Original error
}

func (e *TimeoutError) Error() string { return "timeout: order=" + e.OrderID }
func (e *TimeoutError) Unwrap() error { return e.Original }

func NewTimeoutError(orderID string, cause error) *TimeoutError {
	return &TimeoutError{OrderID: orderID, Original: cause}
}

// UnknownStatusError means even status polling could not determine the
// order's fate; the position is marked execution_unknown for the
// reconciler to resolve later.
type UnknownStatusError struct {
	OrderID string
}

func (e *UnknownStatusError) Error() string { return "unknown order status: " + e.OrderID }

func NewUnknownStatusError(orderID string) *UnknownStatusError {
	return &UnknownStatusError{OrderID: orderID}
}

// ExchangeRejection is a non-retryable exchange-side rejection (bad
// parameters, insufficient balance). Fails fast; never retried.
type ExchangeRejection struct {
	Reason   string
	Original error
}

func (e *ExchangeRejection) Error() string { return "exchange rejected: " + e.Reason }
func (e *ExchangeRejection) Unwrap() error { return e.Original }

func NewExchangeRejection(reason string, cause error) *ExchangeRejection {
	return &ExchangeRejection{Reason: reason, Original: cause}
}

// RiskBlock is not an error in the Go sense — should_enter_trade returns it
// as a reason value, never as a returned error — but it is part of the
// taxonomy so call sites can log/notify uniformly.
type RiskBlock struct {
	Reason string
}

func (e *RiskBlock) Error() string { return "risk block: " + e.Reason }

func NewRiskBlock(reason string) *RiskBlock { return &RiskBlock{Reason: reason} }

// RollbackFailure is raised when a pair-trade compensating order exhausts
// all retries, leaving an un-hedged leg. Always latches safe-mode with a
// manual-restart-only clear reason.
type RollbackFailure struct {
	PairID       string
	UnhedgedLeg  string
	UnhedgedSide string
	Original     error
}

func (e *RollbackFailure) Error() string {
	return "rollback failed: pair=" + e.PairID + " unhedged=" + e.UnhedgedLeg
}
func (e *RollbackFailure) Unwrap() error { return e.Original }

func NewRollbackFailure(pairID, unhedgedLeg, unhedgedSide string, cause error) *RollbackFailure {
	return &RollbackFailure{PairID: pairID, UnhedgedLeg: unhedgedLeg, UnhedgedSide: unhedgedSide, Original: cause}
}

// ConfigInvalid signals a required configuration key is absent at startup,
// or that a value could not be clamped into a sane range at all.
type ConfigInvalid struct {
	Field  string
	Reason string
}

func (e *ConfigInvalid) Error() string { return "invalid config " + e.Field + ": " + e.Reason }

func NewConfigInvalid(field, reason string) *ConfigInvalid {
	return &ConfigInvalid{Field: field, Reason: reason}
}

// Sentinel errors for repository not-found cases, checked with errors.Is.
var (
	ErrPositionNotFound     = errors.New("position not found")
	ErrPairPositionNotFound = errors.New("pair position not found")
)
