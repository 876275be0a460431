package core

// Logger is the application logger. Extra args may be errors, key/value maps or the
// authenticated user, depending on what the implementation knows how to report.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
