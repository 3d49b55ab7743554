package service

// Logger is the key/value logger the services write to. utils.KeyValueLogger
// satisfies it over zap.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// nopLogger discards everything
type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// orNop substitutes a discarding logger for nil
func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
