package monitor

import "autotrade-core/pkg/logger"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	logger.WithComponent("alert").Warn(message)
	return nil
}
