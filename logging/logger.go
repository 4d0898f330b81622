package logging

// Logger is the structured logger handed to the solver and the command line tool. Every line is a
// message followed by alternating keys and values.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named "<parent>.<subname>" writing to the parent's appenders.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	Sync() error
}
