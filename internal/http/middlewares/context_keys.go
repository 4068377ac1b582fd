package middlewares

// Keys stored on the gin context.
const (
	CtxRequestID = "request_id"
	CtxUserID    = "auth.userID"
	CtxEmail     = "auth.email"
	CtxRole      = "auth.role"
	CtxSession   = "auth.session"
)
