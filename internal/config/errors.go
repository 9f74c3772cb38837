package config

// Error codes shared with API consumers via the error envelope.
const (
	ErrorInvalidRequest    = "ERROR_INVALID_REQUEST"
	ErrorDatabase          = "ERROR_DATABASE"
	ErrorStreamUnsupported = "ERROR_STREAM_UNSUPPORTED"
	ErrorNotFound          = "ERROR_NOT_FOUND"
)
