package mqtt

import "errors"

// Use errors.Is to check for these.
var (
	ErrNotConnected  = errors.New("mqtt: client not connected")
	ErrPublishFailed = errors.New("mqtt: publish failed")
	ErrInvalidTopic  = errors.New("mqtt: topic cannot be empty")
)

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct {
	Broker string
}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout: " + e.Broker
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}
