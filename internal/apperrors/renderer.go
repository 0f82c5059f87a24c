package apperrors

// UPnPCode is the SOAP fault status code a renderer-bridge action returns
// to a control point, in addition to (or instead of) the HTTP status the
// JSON response helpers write.
type UPnPCode int

const (
	UPnPSuccess       UPnPCode = 0
	UPnPInvalidParam  UPnPCode = 402
	UPnPInternalError UPnPCode = 501
)

// The flat error-kind taxonomy for the renderer bridge: InvalidParam,
// NotActive, PlayerError, UpstreamFetchError, ParseError, IoError and
// Terminated. Each gets its own ErrorCode so EnsureAppError's HTTP mapping
// and the SOAP dispatcher's UPnPCode mapping both have something to key
// off of.
const (
	ErrorCodeInvalidParam  ErrorCode = "INVALID_PARAM"
	ErrorCodeNotActive     ErrorCode = "NOT_ACTIVE"
	ErrorCodePlayerError   ErrorCode = "PLAYER_ERROR"
	ErrorCodeUpstreamFetch ErrorCode = "UPSTREAM_FETCH_ERROR"
	ErrorCodeParseError    ErrorCode = "PARSE_ERROR"
	ErrorCodeIoError       ErrorCode = "IO_ERROR"
	ErrorCodeTerminated    ErrorCode = "TERMINATED"
)

// NewInvalidParamError maps to UPNP_INVALID_PARAM and HTTP 400: a SOAP
// argument was missing or malformed.
func NewInvalidParamError(message string) *AppError {
	return &AppError{
		Code:       ErrorCodeInvalidParam,
		Message:    message,
		StatusCode: 400,
		UPnPCode:   UPnPInvalidParam,
	}
}

// NewNotActiveError maps to HTTP 409: the action requires the service to
// currently own the player queue.
func NewNotActiveError(message string) *AppError {
	return &AppError{
		Code:       ErrorCodeNotActive,
		Message:    message,
		StatusCode: 409,
		UPnPCode:   UPnPInternalError,
	}
}

// NewPlayerError maps to UPNP_INTERNAL_ERROR: the downstream player
// command failed.
func NewPlayerError(message string) *AppError {
	return &AppError{
		Code:       ErrorCodePlayerError,
		Message:    message,
		StatusCode: 500,
		UPnPCode:   UPnPInternalError,
	}
}

// NewUpstreamFetchError carries the HTTP code observed from the upstream
// fetch. Retryable failures are expected to be recovered locally inside
// content_read and never reach this constructor; only non-retryable
// failures surface as the proxy's HTTP response code.
func NewUpstreamFetchError(httpCode int, message string) *AppError {
	if httpCode == 0 {
		httpCode = 500
	}
	return &AppError{
		Code:       ErrorCodeUpstreamFetch,
		Message:    message,
		StatusCode: httpCode,
	}
}

// NewParseErrorRenderer marks malformed XML that should cause the caller
// to discard one device and continue parsing others.
func NewParseErrorRenderer(message string) *AppError {
	return &AppError{
		Code:       ErrorCodeParseError,
		Message:    message,
		StatusCode: 500,
	}
}

// NewIoErrorRenderer marks a file or socket I/O failure. Non-fatal on the
// cache save path; fatal when it prevents the proxy listen-socket bind.
func NewIoErrorRenderer(message string) *AppError {
	return &AppError{
		Code:       ErrorCodeIoError,
		Message:    message,
		StatusCode: 500,
	}
}

// NewTerminatedError marks a queue or subsystem that has been shut down;
// every blocking call is expected to return this cleanly rather than
// panic or hang.
func NewTerminatedError(message string) *AppError {
	return &AppError{
		Code:       ErrorCodeTerminated,
		Message:    message,
		StatusCode: 503,
	}
}
