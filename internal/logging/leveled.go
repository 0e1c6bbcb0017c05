package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Leveled adapts the logger to the key/value interface expected by
// github.com/hashicorp/go-retryablehttp (retryablehttp.LeveledLogger).
type Leveled struct {
	l *Logger
}

// Leveled returns a key/value adapter for l.
func (l *Logger) Leveled() *Leveled {
	return &Leveled{l: l}
}

func (a *Leveled) Error(msg string, keysAndValues ...interface{}) {
	fields(a.l.Error(), keysAndValues).Msg(msg)
}

func (a *Leveled) Info(msg string, keysAndValues ...interface{}) {
	fields(a.l.Debug(), keysAndValues).Msg(msg)
}

func (a *Leveled) Debug(msg string, keysAndValues ...interface{}) {
	fields(a.l.Debug(), keysAndValues).Msg(msg)
}

func (a *Leveled) Warn(msg string, keysAndValues ...interface{}) {
	fields(a.l.Warn(), keysAndValues).Msg(msg)
}

// fields attaches alternating key/value pairs to e. A trailing key without
// a value is recorded under "extra".
func fields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			e = e.Interface("extra", kv[i])
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if err, isErr := kv[i+1].(error); isErr {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
