package errs

// Protocol / routing / handler error values shared across the runtime.
var (
	ErrParse = New(500, "JSON parsing error")

	ErrCallFields  = New(400, "call packet requires id and args")
	ErrHTTPFields  = New(400, "http packet requires path")
	ErrBadMethod   = New(400, "malformed method, want unit/name")
	ErrNotFound    = New(404, "method not found")
	ErrUnknownType = New(400, "unknown packet type")

	ErrStreamMeta      = New(400, "invalid stream metadata")
	ErrStreamExists    = New(400, "stream already initialized")
	ErrStreamUnknown   = New(400, "unknown stream id")
	ErrStreamFinalized = New(400, "stream already finalized")
	ErrStreamBacklog   = New(400, "stream backlog limit exceeded")
	ErrChunkFrame      = New(400, "malformed binary chunk frame")

	ErrUnauthorized = New(401, "authentication required")
	ErrCredentials  = New(401, "invalid credentials")
	ErrInternal     = New(500, "internal server error")
)
