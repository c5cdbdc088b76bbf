package calendar

import "log"

// Level grades a transient user notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier surfaces transient messages ("toasts") to the person using the view.
type Notifier interface {
	Notify(level Level, message string)
}

// LogNotifier writes notifications to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(level Level, message string) {
	switch level {
	case LevelError:
		log.Printf("ERROR: %s", message)
	case LevelWarning:
		log.Printf("WARN: %s", message)
	default:
		log.Printf("INFO: %s", message)
	}
}
