package logger

import (
	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

// Logger is re-exported from eigensdk-go so packages in this module can take
// a logger without importing sdklogging themselves.
type Logger = sdklogging.Logger

// NoOpLogger implements Logger with no-op methods. Use it when a component
// requires a logger but the caller does not want any output (tests mostly).
type NoOpLogger struct{}

func (l *NoOpLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *NoOpLogger) Infof(format string, args ...interface{})       {}
func (l *NoOpLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (l *NoOpLogger) Debugf(format string, args ...interface{})      {}
func (l *NoOpLogger) Error(msg string, keysAndValues ...interface{}) {}
func (l *NoOpLogger) Errorf(format string, args ...interface{})      {}
func (l *NoOpLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (l *NoOpLogger) Warnf(format string, args ...interface{})       {}
func (l *NoOpLogger) Fatal(msg string, keysAndValues ...interface{}) {}
func (l *NoOpLogger) Fatalf(format string, args ...interface{})      {}
func (l *NoOpLogger) With(keysAndValues ...interface{}) Logger       { return l }
func (l *NoOpLogger) WithComponent(componentName string) Logger      { return l }
func (l *NoOpLogger) WithName(name string) Logger                    { return l }
func (l *NoOpLogger) WithServiceName(serviceName string) Logger      { return l }
func (l *NoOpLogger) WithHostName(hostName string) Logger            { return l }
func (l *NoOpLogger) Sync() error                                    { return nil }

// New builds a zap-backed logger. Pass "production" for JSON output;
// anything else gets the development console encoder.
func New(env string) (Logger, error) {
	if env == "production" {
		return sdklogging.NewZapLogger(sdklogging.Production)
	}
	return sdklogging.NewZapLogger(sdklogging.Development)
}

func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// EnsureLogger returns the given logger, or a no-op logger when nil, so
// optional logger parameters never cause a nil pointer panic.
func EnsureLogger(l Logger) Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	return l
}
