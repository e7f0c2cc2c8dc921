package errs

const (
	CodeInvalidInput = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeInternal     = 500
	CodeTransient    = 503
)

var (
	ErrInvalidInput = NewCodeError(CodeInvalidInput, "InvalidInput")
	ErrUnauthorized = NewCodeError(CodeUnauthorized, "Unauthorized")
	ErrNotFound     = NewCodeError(CodeNotFound, "NotFound")
	ErrInternal     = NewCodeError(CodeInternal, "ServerInternalError")
	ErrTransient    = NewCodeError(CodeTransient, "Transient")
)
