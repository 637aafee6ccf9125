package sms

import "context"

// Sender is the SMS delivery hook. Only the noop implementation ships; a real
// provider plugs in behind the same interface.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) error {
	return nil
}
