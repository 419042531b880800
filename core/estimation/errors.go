package estimation

const (
	BatchNotSupportedError = "Basic accounts can only sign one call at a time. Please dismiss the extra calls and try again."
	NonceFetchError        = "The account nonce could not be determined. Please check your connection and try again."
	SimulationDecodeError  = "The transaction simulation returned an unexpected result. Please try again."

	estimationTag = "estimation"
)
