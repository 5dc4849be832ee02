package logger

import (
	"fmt"

	"go.uber.org/zap"
)

type developmentLogger struct {
	logger *zap.Logger
}

// NewDevelopmentLogger creates a new instance of the development zap logger.
func NewDevelopmentLogger() (Logger, error) {
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &developmentLogger{logger: zapLogger}, nil
}

var _ Logger = (*developmentLogger)(nil)

// toZapFields turns key/value pairs into typed fields. A non-string key
// is stringified instead of dropped, a dangling key gets logged as-is.
func (l *developmentLogger) toZapFields(keysAndValues ...any) []zap.Field {
	fields := make([]zap.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.String("dangling_key", key))
		}
	}
	return fields
}

func (l *developmentLogger) Debugw(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, l.toZapFields(keysAndValues...)...)
}

func (l *developmentLogger) Infow(msg string, keysAndValues ...any) {
	l.logger.Info(msg, l.toZapFields(keysAndValues...)...)
}

func (l *developmentLogger) Warnw(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, l.toZapFields(keysAndValues...)...)
}

func (l *developmentLogger) Errorw(msg string, keysAndValues ...any) {
	l.logger.Error(msg, l.toZapFields(keysAndValues...)...)
}

func (l *developmentLogger) Panicw(msg string, keysAndValues ...any) {
	l.logger.Panic(msg, l.toZapFields(keysAndValues...)...)
}

func (l *developmentLogger) Fatalw(msg string, keysAndValues ...any) {
	l.logger.Fatal(msg, l.toZapFields(keysAndValues...)...)
}

func (l *developmentLogger) Sync() error {
	return l.logger.Sync()
}
