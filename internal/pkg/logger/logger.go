package logger

import "fmt"

// Logger is the structured logging contract every layer depends on.
// Implementations take loosely typed key/value pairs, zap "sugared" style.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Panicw(msg string, keysAndValues ...any)
	Fatalw(msg string, keysAndValues ...any)
	Sync() error
}

// New picks the logger flavour for the given environment name:
// "development" gets the human readable console logger, everything else
// gets the JSON production logger.
func New(env string) (Logger, error) {
	switch env {
	case "development", "dev", "local":
		l, err := NewDevelopmentLogger()
		if err != nil {
			return nil, fmt.Errorf("failed to create a development logger: %w", err)
		}
		return l, nil
	default:
		return NewSugarLogger()
	}
}
