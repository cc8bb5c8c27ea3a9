// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config holds the runtime configuration of the controller. All
// settings come from the environment with working defaults, so an unconfigured
// binary serves the local controller out of the box.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the resolved runtime configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// DBPath is the SQLite database file.
	DBPath string

	// SerialBaud is the default baud rate for console sessions.
	SerialBaud int

	// SerialTimeout is the default per-read timeout.
	SerialTimeout time.Duration

	// SerialPortBase is the path prefix of the controller's port nodes;
	// port N lives at SerialPortBase + strconv.Itoa(N).
	SerialPortBase string

	// DefaultParallelism is used when a run request does not set one.
	DefaultParallelism int

	// Passcode, when non-empty, is required in the X-Passcode header on
	// every non-exempt request.
	Passcode string

	// CORSOrigins is the allow-list for cross-origin requests.
	CORSOrigins []string

	LogLevel  string
	LogFormat string // "text" or "json"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:         ":8080",
		DBPath:             "switchboot.db",
		SerialBaud:         9600,
		SerialTimeout:      10 * time.Second,
		SerialPortBase:     "/dev/port",
		DefaultParallelism: 4,
		CORSOrigins:        []string{"*"},
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// FromEnv returns the default configuration overridden by environment
// variables.
func FromEnv() *Config {
	c := Default()

	if v := os.Getenv("SWITCHBOOT_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("SWITCHBOOT_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("SERIAL_BAUDRATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SerialBaud = n
		}
	}
	if v := os.Getenv("SERIAL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SerialTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SERIAL_PORT_BASE"); v != "" {
		c.SerialPortBase = v
	}
	if v := os.Getenv("DEFAULT_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultParallelism = ClampParallelism(n)
		}
	}
	if v := os.Getenv("API_PASSCODE"); v != "" {
		c.Passcode = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			c.CORSOrigins = origins
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}

	return c
}

// ClampParallelism bounds a requested parallelism to [1,16]. Each worker
// holds an exclusive serial port, so more than sixteen can never be serviced.
func ClampParallelism(n int) int {
	if n < 1 {
		return 1
	}
	if n > 16 {
		return 16
	}
	return n
}

// PortPath returns the device node for a 1-based port number.
func (c *Config) PortPath(n int) string {
	return c.SerialPortBase + strconv.Itoa(n)
}
