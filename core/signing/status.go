package signing

// Status is the controller's state machine value. It doubles as the only
// concurrency primitive: while a frozen status is set, Update is a no-op,
// so background refreshes cannot change what is about to be signed.
type Status string

const (
	// StatusNone means not ready yet and nothing to show.
	StatusNone Status = ""
	// StatusEstimationError means the estimation itself failed; checked
	// before everything else.
	StatusEstimationError Status = "estimation-error"
	// StatusUnableToSign means the aggregated error list is non-empty.
	StatusUnableToSign Status = "unable-to-sign"
	// StatusReadyToSign means a signer and fee payment are chosen and
	// nothing blocks signing.
	StatusReadyToSign Status = "ready-to-sign"
	// StatusUpdatesPaused holds updates without being mid-signature.
	StatusUpdatesPaused Status = "updates-paused"
	// StatusInProgress means Sign has started.
	StatusInProgress Status = "in-progress"
	// StatusWaitingForPaymaster means Sign is blocked on a live paymaster
	// round-trip.
	StatusWaitingForPaymaster Status = "waiting-for-paymaster"
	// StatusDone means a signed result has been produced.
	StatusDone Status = "done"
)

// IsFrozen reports whether Update must ignore all input.
func (s Status) IsFrozen() bool {
	switch s {
	case StatusUpdatesPaused, StatusInProgress, StatusWaitingForPaymaster, StatusDone:
		return true
	}
	return false
}
