// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package serial

import (
	"fmt"
	"regexp"
	"time"

	"golang.org/x/sys/unix"
)

// baudFlags maps supported rates to termios constants.
var baudFlags = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// Port is the Linux transport over a tty device node.
type Port struct {
	cfg Config
	fd  int
}

// NewPort returns an unopened transport for the given line settings.
func NewPort(cfg Config) *Port {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Port{cfg: cfg, fd: -1}
}

// Open opens the device node and programs the line: raw mode, 8 data bits,
// no parity, one stop bit, VMIN=0/VTIME=1 so reads poll in 100ms slices.
func (p *Port) Open() error {
	if p.fd >= 0 {
		return nil
	}
	baud, ok := baudFlags[p.cfg.Baud]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", p.cfg.Baud)
	}

	fd, err := unix.Open(p.cfg.Path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.cfg.Path, err)
	}

	tio := &unix.Termios{
		Cflag:  unix.CREAD | unix.CLOCAL | unix.CS8 | baud,
		Ispeed: baud,
		Ospeed: baud,
	}
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		unix.Close(fd)
		return fmt.Errorf("configure %s: %w", p.cfg.Path, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		unix.Close(fd)
		return fmt.Errorf("flush %s: %w", p.cfg.Path, err)
	}

	p.fd = fd
	return nil
}

func (p *Port) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

func (p *Port) SendLine(s string) error {
	if p.fd < 0 {
		return fmt.Errorf("serial port not open")
	}
	data := []byte(s + "\n")
	for len(data) > 0 {
		n, err := unix.Write(p.fd, data)
		if err != nil {
			return fmt.Errorf("write %s: %w", p.cfg.Path, err)
		}
		data = data[n:]
	}
	return nil
}

func (p *Port) ReadUntilPrompt(prompt *regexp.Regexp, timeout time.Duration) (string, error) {
	if p.fd < 0 {
		return "", fmt.Errorf("serial port not open")
	}
	if timeout == 0 {
		timeout = p.cfg.Timeout
	}
	deadline := time.Now().Add(timeout)

	var buf []byte
	chunk := make([]byte, 256)
	for {
		n, err := unix.Read(p.fd, chunk)
		if err != nil && err != unix.EINTR {
			return string(buf), fmt.Errorf("read %s: %w", p.cfg.Path, err)
		}
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if PromptAtTail(buf, prompt) {
				return string(buf), nil
			}
		}
		if time.Now().After(deadline) {
			return string(buf), &TimeoutError{Captured: string(buf)}
		}
	}
}

func (p *Port) Flush() error {
	if p.fd < 0 {
		return nil
	}
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIOFLUSH)
}
