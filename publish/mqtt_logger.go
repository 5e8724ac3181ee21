package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// mqttLogger adapts slog to the paho logger interface.
type mqttLogger struct {
	logger *slog.Logger
	level  slog.Level
}

func newMqttLogger(logger *slog.Logger, level slog.Level) *mqttLogger {
	return &mqttLogger{logger: logger, level: level}
}

func (l *mqttLogger) Println(v ...any) {
	l.logger.Log(context.Background(), l.level, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *mqttLogger) Printf(format string, v ...any) {
	l.logger.Log(context.Background(), l.level, fmt.Sprintf(format, v...))
}
