// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package serial

import (
	"fmt"
	"regexp"
	"time"
)

// Port is a stub on non-Linux hosts; the controller hardware runs Linux, but
// the rest of the module still builds for development elsewhere.
type Port struct {
	cfg Config
}

func NewPort(cfg Config) *Port {
	return &Port{cfg: cfg}
}

func (p *Port) Open() error {
	return fmt.Errorf("serial ports are only supported on linux")
}

func (p *Port) Close() error { return nil }

func (p *Port) SendLine(string) error {
	return fmt.Errorf("serial port not open")
}

func (p *Port) ReadUntilPrompt(*regexp.Regexp, time.Duration) (string, error) {
	return "", fmt.Errorf("serial port not open")
}

func (p *Port) Flush() error { return nil }
