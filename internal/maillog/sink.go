package maillog

import (
	"sync"

	logx "sesmailer/pkg/logx"
)

// Sink receives formatted outcome lines. Implementations must be safe for
// concurrent use and must not fail the caller.
type Sink interface {
	Log(line string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(line string)

func (f SinkFunc) Log(line string) { f(line) }

type nopSink struct{}

func (nopSink) Log(string) {}

// Nop discards every line.
func Nop() Sink { return nopSink{} }

type gate struct {
	next    Sink
	enabled func() bool
}

// Gate forwards lines only while enabled reports true. It is evaluated per
// line so runtime config changes apply immediately.
func Gate(next Sink, enabled func() bool) Sink {
	if next == nil {
		return Nop()
	}
	if enabled == nil {
		return next
	}
	return gate{next: next, enabled: enabled}
}

func (g gate) Log(line string) {
	if g.enabled() {
		g.next.Log(line)
	}
}

type multi []Sink

func (m multi) Log(line string) {
	for _, s := range m {
		s.Log(line)
	}
}

// Tee writes every line to all sinks in order.
func Tee(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Logx mirrors outcome lines into the process log at info level.
func Logx(log logx.Logger) Sink {
	log = log.With(logx.String("comp", "maillog"))
	return SinkFunc(func(line string) { log.Info(line) })
}

// Memory keeps lines in memory. Useful for tests and the dry-run CLI.
type Memory struct {
	mu    sync.Mutex
	lines []string
}

func (m *Memory) Log(line string) {
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
}

// Lines returns a copy of everything logged so far.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}
