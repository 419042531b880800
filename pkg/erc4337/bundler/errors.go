package bundler

import (
	"strings"
)

// Cause is a machine-readable tag attached to a decoded bundler error so
// callers can branch without string matching the message.
type Cause string

const (
	CauseUnknown           Cause = "unknown"
	CauseInvalidNonce      Cause = "invalid_nonce"
	CausePrefund           Cause = "prefund_too_low"
	CausePaymasterDeposit  Cause = "paymaster_deposit_too_low"
	CausePaymasterExpired  Cause = "paymaster_expired"
	CauseSignatureRejected Cause = "signature_rejected"
	CauseEndpointDown      Cause = "endpoint_down"
	CauseRateLimited       Cause = "rate_limited"
)

// DecodedError is a bundler error normalized into a display-ready message
// plus the cause tag used by the failover policy.
type DecodedError struct {
	Cause   Cause
	Message string
}

func (e *DecodedError) Error() string { return e.Message }

// Switchable reports whether failing over to another bundler could help.
// Validation failures (AA** entry point codes) are terminal: every bundler
// runs the same simulation, so a different endpoint would fail identically.
func (e *DecodedError) Switchable() bool {
	switch e.Cause {
	case CauseEndpointDown, CauseRateLimited, CauseUnknown:
		return true
	default:
		return false
	}
}

// NonFatal reports whether the error should be recorded on the estimation
// result as a marker instead of failing the whole estimate.
func (e *DecodedError) NonFatal() bool {
	return e.Cause == CauseInvalidNonce
}

// Decode maps raw bundler errors to a DecodedError. The AA codes come from
// the EntryPoint reference implementation and are shared across bundlers.
func Decode(err error) *DecodedError {
	if err == nil {
		return nil
	}
	if decoded, ok := err.(*DecodedError); ok {
		return decoded
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "aa25") || strings.Contains(lower, "invalid account nonce"):
		return &DecodedError{Cause: CauseInvalidNonce, Message: "The account nonce is out of date. It will be refreshed automatically."}
	case strings.Contains(lower, "aa21") || strings.Contains(lower, "didn't pay prefund"):
		return &DecodedError{Cause: CausePrefund, Message: "The account does not hold enough of the native asset to cover the fee."}
	case strings.Contains(lower, "aa31") || strings.Contains(lower, "paymaster deposit too low"):
		return &DecodedError{Cause: CausePaymasterDeposit, Message: "The fee sponsorship service is temporarily out of funds. Please pay the fee yourself or try again later."}
	case strings.Contains(lower, "aa32") || strings.Contains(lower, "paymaster expired"):
		return &DecodedError{Cause: CausePaymasterExpired, Message: "The fee sponsorship expired. Please try again."}
	case strings.Contains(lower, "aa24") || strings.Contains(lower, "signature error"):
		return &DecodedError{Cause: CauseSignatureRejected, Message: "The signature was rejected during simulation. Please contact support if the problem persists."}
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return &DecodedError{Cause: CauseRateLimited, Message: "The network is busy. Retrying with another provider..."}
	case strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "bad gateway") ||
		strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "internal error"):
		return &DecodedError{Cause: CauseEndpointDown, Message: "The transaction service did not respond. Retrying with another provider..."}
	default:
		return &DecodedError{Cause: CauseUnknown, Message: "The transaction cannot be processed at the moment: " + msg}
	}
}
