package job

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrAlreadyRunning = errors.New("already running")
	ErrTimeout        = errors.New("job timeout")
	ErrSource         = errors.New("source error")
	ErrConfiguration  = errors.New("configuration error")
)

// Messages recorded in SyncResult.Errors for guard and timeout failures.
const (
	MsgAlreadyRunning = "already running"
	MsgTimeout        = "Job timeout"
)

// ConfigError reports an invalid job definition. It matches ErrConfiguration
// under errors.Is.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// ConfigErrorf builds a ConfigError for field.
func ConfigErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the offending id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, id)
}
