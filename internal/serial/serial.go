// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package serial owns the console side of the controller: tty-like byte
// channels opened against the sixteen port nodes, line writes, and
// prompt-terminated reads.
package serial

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// DefaultPromptPattern matches the interactive readiness marker of common
// switch CLIs. Matching is anchored to the buffer tail; see PromptAtTail.
const DefaultPromptPattern = `[#>]`

// Transport is a byte channel to one console port. A transport is owned by
// exactly one runner for its lifetime and must be closed on every exit path.
type Transport interface {
	Open() error
	Close() error

	// SendLine writes s followed by a newline and flushes.
	SendLine(s string) error

	// ReadUntilPrompt accumulates bytes until the prompt regex matches the
	// tail of the buffer or the timeout elapses. On timeout it returns the
	// captured bytes together with a TimeoutError.
	ReadUntilPrompt(prompt *regexp.Regexp, timeout time.Duration) (string, error)

	// Flush discards pending input and output.
	Flush() error
}

// TimeoutError reports that a read ended without the prompt appearing. The
// partial transcript is carried so callers can log it.
type TimeoutError struct {
	Captured string
}

func (e *TimeoutError) Error() string {
	return "timeout waiting for prompt"
}

// IsTimeout reports whether err is a prompt-read timeout.
func IsTimeout(err error) bool {
	_, ok := err.(*TimeoutError)
	return ok
}

// PromptAtTail reports whether the prompt regex matches at the very end of
// the captured buffer, ignoring trailing whitespace. A match embedded in
// earlier output (a '#' inside an interface description, say) is followed by
// further non-whitespace bytes and therefore does not count.
func PromptAtTail(buf []byte, prompt *regexp.Regexp) bool {
	end := len(buf)
	for end > 0 {
		switch buf[end-1] {
		case ' ', '\t', '\r', '\n':
			end--
			continue
		}
		break
	}
	if end == 0 {
		return false
	}
	trimmed := buf[:end]
	locs := prompt.FindAllIndex(trimmed, -1)
	if len(locs) == 0 {
		return false
	}
	return locs[len(locs)-1][1] == end
}

// DiscoverPorts returns the canonical port paths base+"1"..base+"16" that
// exist on this host.
func DiscoverPorts(base string) []string {
	var found []string
	for i := 1; i <= 16; i++ {
		path := base + strconv.Itoa(i)
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		}
	}
	return found
}

// PortExists reports whether the node for one port path is present.
func PortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Config carries the line settings of a console session. The controller
// hardware talks 9600-8N1; parity and framing are fixed.
type Config struct {
	Path    string
	Baud    int
	Timeout time.Duration
}

func (c Config) String() string {
	return fmt.Sprintf("%s (%d-8-N-1)", c.Path, c.Baud)
}
