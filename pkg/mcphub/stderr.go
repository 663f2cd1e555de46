package mcphub

import (
	"bytes"
	"strings"
	"sync"
)

// stderrTap captures a child process's stderr as a diagnostic side channel.
// Lines starting with an INFO marker are routine startup chatter and are
// logged only; everything else lands in the server's error log. The tap is
// bound to one record incarnation so output from an old process never leaks
// into the record of its replacement.
type stderrTap struct {
	hub   *Hub
	state *connState

	mu  sync.Mutex
	rem []byte
}

func (t *stderrTap) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data := append(t.rem, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.consume(string(data[:i]))
		data = data[i+1:]
	}
	t.rem = append(t.rem[:0:0], data...)
	return len(p), nil
}

// flush drains a trailing unterminated line, called once the process is gone.
func (t *stderrTap) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rem) > 0 {
		t.consume(string(t.rem))
		t.rem = nil
	}
}

func (t *stderrTap) consume(line string) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if trimmed == "" {
		return
	}
	if strings.HasPrefix(trimmed, "INFO") {
		t.hub.opts.Logger.Debug("server stderr", "server", t.state.name, "line", trimmed)
		return
	}
	t.hub.recordStderr(t.state, trimmed)
}
