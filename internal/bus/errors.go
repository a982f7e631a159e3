package bus

// Error codes for broker operations. Keep stable; used across adapters and services.
const (
	ErrCodeConnectFailed       = "bus.connect_failed"
	ErrCodePublishFailed       = "bus.publish_failed"
	ErrCodeSubscribeFailed     = "bus.subscribe_failed"
	ErrCodeSerializationFailed = "bus.serialization_failed"
	ErrCodeMalformedPayload    = "bus.malformed_payload"
	ErrCodeClosed              = "bus.closed"
)

// Code returns an error value that carries only a code string.
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrConnectFailed       = Code(ErrCodeConnectFailed)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
	ErrSubscribeFailed     = Code(ErrCodeSubscribeFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrMalformedPayload    = Code(ErrCodeMalformedPayload)
	ErrClosed              = Code(ErrCodeClosed)
)
