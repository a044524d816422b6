package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidInput         ErrorCode = 100
	ErrCodeEmptyBatch           ErrorCode = 101
	ErrCodeStaleBatch           ErrorCode = 102
	ErrCodeInvalidWeights       ErrorCode = 103
	ErrCodeInvalidConfiguration ErrorCode = 104
	ErrCodeInvalidParameter     ErrorCode = 105

	// Data/Resource errors (200-299)
	ErrCodeEntityNotFound ErrorCode = 200
	ErrCodeQueryFailed    ErrorCode = 201
	ErrCodeScanFailed     ErrorCode = 202

	// Persistence errors (300-399)
	ErrCodePersistenceFailed ErrorCode = 300
	ErrCodeTransactionFailed ErrorCode = 301

	// Transient I/O errors (400-499)
	ErrCodeTransientIO ErrorCode = 400

	// Job errors (500-599)
	ErrCodeUnsupportedJobType ErrorCode = 500
	ErrCodeQueueFull          ErrorCode = 501
	ErrCodeWorkerStopped      ErrorCode = 502
)

// IsRetryable reports whether an error carries a code that a job scheduler may
// safely retry. Validation and data errors are deterministic: retrying them
// reproduces the same failure.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodePersistenceFailed, ErrCodeTransactionFailed, ErrCodeTransientIO, ErrCodeQueryFailed:
		return true
	default:
		return false
	}
}
