package logx

import "github.com/rs/zerolog"

// Keys shared by every sync-related event so log queries can join on them.
const (
	KeyJob     = "job"
	KeyTrigger = "trigger"
	KeyAttempt = "attempt"
	KeyResult  = "result"
)

func Job(id string) Field { return String(KeyJob, id) }

func Trigger[T ~string](t T) Field { return String(KeyTrigger, string(t)) }

func Attempt(n int) Field { return Int(KeyAttempt, n) }

func Result(id string) Field { return String(KeyResult, id) }

// Sync tags an event with the job, trigger and attempt number of one run.
func Sync[T ~string](jobID string, trigger T, attempt int) Field {
	return func(e *zerolog.Event) {
		e.Str(KeyJob, jobID).Str(KeyTrigger, string(trigger)).Int(KeyAttempt, attempt)
	}
}
