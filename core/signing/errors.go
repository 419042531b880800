package signing

import (
	"fmt"
	"strings"
)

// User-facing messages. These surface directly in the UI, so they stay
// display-ready here instead of being formatted at the call sites.
const (
	errMsgUnsupportedAccount = "Signing transactions with this account is not supported on this network. Please switch to a network that supports it."

	errMsgGasExceedsBlockLimit = "The transaction's gas exceeds the network's block gas limit and can never be mined. Please review the transaction."

	errMsgGasImplausiblyHigh = "The estimated gas for this transaction is implausibly high. Please review the transaction before signing."

	errMsgNoFeeOptions = "There are no fee payment options available for this transaction. Please top up one of the supported fee tokens."

	errMsgNoSigner = "Please select a key to sign with."

	errMsgNativePriceUnavailable = "We are unable to fetch the network's native asset price, which is required to display fees. Please try again later."

	errMsgNoFeeTokenChosen = "Please select a token and an account to pay the fee with."

	errMsgTryAnotherOption = "The selected fee payment option does not cover the fee at this speed. Please select another speed or another fee payment option."

	errMsgFeeTokenPriceUnavailable = "We are unable to fetch the selected fee token's price. Please pay the fee with a different token."

	errMsgGasTankBalanceTooLow = "Your total balance is too low to pay fees through the Gas Tank. Please use another fee payment option."

	errMsgNotReadyToSign = "The transaction is not ready to sign. Please resolve the displayed issues first."

	errMsgRequestDismissed = "The signing request is no longer active."
)

// insufficientFundsMessage lists the fee tokens the user could top up when
// no option covers the fee at any speed.
func insufficientFundsMessage(symbols []string) string {
	if len(symbols) == 0 {
		return errMsgNoFeeOptions
	}
	return fmt.Sprintf(
		"Insufficient funds to cover the fee. Please top up one of the following: %s.",
		strings.Join(symbols, ", "),
	)
}

// humanizeSigningError turns a runtime signing failure into a message the
// user can act on. Cause details are logged, not shown.
func humanizeSigningError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "user rejected") || strings.Contains(lower, "denied"):
		return "The signing request was rejected."
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return "Signing timed out. Please try again."
	case strings.HasSuffix(msg, "."):
		return msg
	default:
		return msg + "."
	}
}
