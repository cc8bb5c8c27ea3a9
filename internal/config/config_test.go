// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampParallelism(t *testing.T) {
	assert.Equal(t, 1, ClampParallelism(0))
	assert.Equal(t, 1, ClampParallelism(-3))
	assert.Equal(t, 4, ClampParallelism(4))
	assert.Equal(t, 16, ClampParallelism(16))
	assert.Equal(t, 16, ClampParallelism(99))
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SWITCHBOOT_LISTEN", ":9090")
	t.Setenv("SERIAL_TIMEOUT", "30")
	t.Setenv("DEFAULT_PARALLELISM", "99")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example ,")

	c := FromEnv()
	assert.Equal(t, ":9090", c.ListenAddr)
	assert.Equal(t, 30*time.Second, c.SerialTimeout)
	assert.Equal(t, 16, c.DefaultParallelism)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, c.CORSOrigins)

	// Untouched variables keep their defaults.
	assert.Equal(t, 9600, c.SerialBaud)
	assert.Equal(t, "switchboot.db", c.DBPath)
}

func TestFromEnvIgnoresBadNumbers(t *testing.T) {
	t.Setenv("SERIAL_BAUDRATE", "fast")
	t.Setenv("SERIAL_TIMEOUT", "-1")

	c := FromEnv()
	assert.Equal(t, 9600, c.SerialBaud)
	assert.Equal(t, 10*time.Second, c.SerialTimeout)
}

func TestPortPath(t *testing.T) {
	c := Default()
	assert.Equal(t, "/dev/port7", c.PortPath(7))
}
