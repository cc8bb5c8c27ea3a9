// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package serial

import (
	"regexp"
	"sync"
	"time"
)

// MockTransport is a scripted Transport for tests: each ReadUntilPrompt
// returns the next queued response, or the last one again when the script is
// exhausted. A queued *TimeoutError simulates a prompt timeout.
type MockTransport struct {
	mu sync.Mutex

	// Responses are consumed in order by ReadUntilPrompt.
	Responses []interface{} // string or *TimeoutError

	// OpenErr, when set, is returned by Open.
	OpenErr error

	Opened bool
	Closed bool
	Sent   []string

	last interface{}
}

func (m *MockTransport) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.Opened = true
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockTransport) SendLine(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, s)
	return nil
}

func (m *MockTransport) ReadUntilPrompt(prompt *regexp.Regexp, timeout time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next interface{}
	if len(m.Responses) > 0 {
		next = m.Responses[0]
		m.Responses = m.Responses[1:]
		m.last = next
	} else {
		next = m.last
	}

	switch v := next.(type) {
	case *TimeoutError:
		return v.Captured, v
	case string:
		return v, nil
	default:
		return "", nil
	}
}

func (m *MockTransport) Flush() error { return nil }
