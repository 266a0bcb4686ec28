package errutil

// CoreStatus is a transport-agnostic error code. Generic codes mirror the
// usual HTTP taxonomy; domain codes carry the marketplace business-rule
// failures so callers can branch without string matching.
type CoreStatus string

const (
	StatusBadRequest       CoreStatus = "BAD_REQUEST"
	StatusValidationFailed CoreStatus = "VALIDATION_FAILED"
	StatusNotFound         CoreStatus = "NOT_FOUND"
	StatusConflict         CoreStatus = "CONFLICT"
	StatusUnauthorized     CoreStatus = "UNAUTHORIZED"
	StatusForbidden        CoreStatus = "FORBIDDEN"
	StatusTimeout          CoreStatus = "TIMEOUT"
	StatusInternal         CoreStatus = "INTERNAL"

	// Domain codes.
	StatusInvalidTransition   CoreStatus = "INVALID_TRANSITION"
	StatusInsufficientBalance CoreStatus = "INSUFFICIENT_BALANCE"
	StatusRevisionLimit       CoreStatus = "REVISION_LIMIT_EXCEEDED"
	StatusLedgerInvariant     CoreStatus = "LEDGER_INVARIANT_VIOLATION"
	StatusGatewayError        CoreStatus = "EXTERNAL_GATEWAY_ERROR"
	StatusDuplicateOperation  CoreStatus = "DUPLICATE_OPERATION"
)
