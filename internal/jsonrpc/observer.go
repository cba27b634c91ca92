package jsonrpc

import "go.uber.org/zap"

// Fault categorizes a transport error for the observer.
type Fault string

const (
	FaultMalformedHeader        Fault = "malformed_header"
	FaultInvalidJSON            Fault = "invalid_json"
	FaultInvalidServerMessage   Fault = "invalid_server_message"
	FaultNoCallbackForResponse  Fault = "no_callback_for_response"
	FaultRequestHandler         Fault = "request_handler"
	FaultNotificationHandler    Fault = "notification_handler"
	FaultResponseCallback       Fault = "response_callback"
	FaultResponseMissingPayload Fault = "response_missing_payload"
	FaultRead                   Fault = "read"
)

// Observer receives structured error reports from the transport.
// All classification-time and handler-time failures flow through the
// observer instead of interrupting frame processing; only FaultRead is
// fatal to the transport.
type Observer func(fault Fault, err error)

// NopObserver discards all error reports.
func NopObserver(Fault, error) {}

// NewZapObserver returns an Observer that logs reports through log.
// FaultRead is logged at error level, everything else at warn.
func NewZapObserver(log *zap.Logger) Observer {
	return func(fault Fault, err error) {
		if fault == FaultRead {
			log.Error("transport read failed", zap.Error(err))
			return
		}
		log.Warn("transport fault", zap.String("fault", string(fault)), zap.Error(err))
	}
}
