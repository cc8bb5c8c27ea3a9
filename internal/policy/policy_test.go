// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/switchboot/internal/model"
)

func validDevice(id int64) *model.Device {
	return &model.Device{
		ID:       id,
		Hostname: "sw-lab-01",
		MgmtIP:   "10.0.0.10",
		Mask:     "255.255.255.0",
		Gateway:  "10.0.0.1",
	}
}

func TestNormalizeMask(t *testing.T) {
	assert.Equal(t, "255.255.255.0", NormalizeMask("/24"))
	assert.Equal(t, "255.255.255.0", NormalizeMask("24"))
	assert.Equal(t, "255.255.0.0", NormalizeMask("16"))
	assert.Equal(t, "255.255.255.255", NormalizeMask("/32"))

	// Dotted decimal passes through unchanged.
	assert.Equal(t, "255.255.255.0", NormalizeMask("255.255.255.0"))

	// Garbage passes through for ValidateDevice to reject.
	assert.Equal(t, "potato", NormalizeMask("potato"))
	assert.Equal(t, "/33", NormalizeMask("/33"))
}

func TestValidateDevice_Valid(t *testing.T) {
	d := validDevice(1)
	errs := ValidateDevice(d, []*model.Device{d})
	assert.Empty(t, errs)
}

func TestValidateDevice_PrefixMask(t *testing.T) {
	d := validDevice(1)
	d.Mask = "/24"
	assert.Empty(t, ValidateDevice(d, []*model.Device{d}))
}

func TestValidateDevice_Hostname(t *testing.T) {
	cases := []struct {
		hostname string
		ok       bool
	}{
		{"sw-lab-01", true},
		{"SW01", true},
		{"a", true},
		{"", false},
		{"has space", false},
		{"under_score", false},
		{"sw.lab", false},
	}
	for _, tc := range cases {
		d := validDevice(1)
		d.Hostname = tc.hostname
		errs := ValidateDevice(d, []*model.Device{d})
		if tc.ok {
			assert.Empty(t, errs, "hostname %q", tc.hostname)
		} else {
			require.NotEmpty(t, errs, "hostname %q", tc.hostname)
			assert.Equal(t, "hostname", errs[0].Field)
		}
	}
}

func TestValidateDevice_BadIP(t *testing.T) {
	d := validDevice(1)
	d.MgmtIP = "10.0.0.300"
	errs := ValidateDevice(d, []*model.Device{d})
	require.NotEmpty(t, errs)
	assert.Equal(t, "mgmt_ip", errs[0].Field)
	assert.Contains(t, errs[0].Message, "Invalid IPv4 address: '10.0.0.300'.")
}

func TestValidateDevice_BadMask(t *testing.T) {
	for _, mask := range []string{"255.0.255.0", "garbage", "0.0.0.0", "/40"} {
		d := validDevice(1)
		d.Mask = mask
		errs := ValidateDevice(d, []*model.Device{d})
		require.NotEmpty(t, errs, "mask %q", mask)
		assert.Equal(t, "mask", errs[0].Field, "mask %q", mask)
	}
}

func TestValidateDevice_GatewaySubnet(t *testing.T) {
	d := validDevice(1)
	d.Gateway = "10.0.1.1" // outside 10.0.0.0/24
	errs := ValidateDevice(d, []*model.Device{d})
	require.Len(t, errs, 1)
	assert.Equal(t, "gateway", errs[0].Field)
	assert.Equal(t, "Gateway '10.0.1.1' is not in the same subnet as IP '10.0.0.10/255.255.255.0'.", errs[0].Message)
}

func TestValidateDevice_GatewaySubnetWithPrefixMask(t *testing.T) {
	// The subnet check runs over the normalized mask.
	d := validDevice(1)
	d.Mask = "/16"
	d.Gateway = "10.0.200.1" // inside 10.0.0.0/16
	assert.Empty(t, ValidateDevice(d, []*model.Device{d}))
}

func TestValidateDevice_GatewayUnparseable(t *testing.T) {
	d := validDevice(1)
	d.Gateway = "not-an-ip"
	errs := ValidateDevice(d, []*model.Device{d})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Invalid Gateway IPv4")
}

func TestValidateDevice_DuplicateIP(t *testing.T) {
	a := validDevice(1)
	b := validDevice(2)
	b.Hostname = "sw-lab-02"
	all := []*model.Device{a, b}

	// Both devices report the conflict, each naming the other.
	errsA := ValidateDevice(a, all)
	require.Len(t, errsA, 1)
	assert.Equal(t, "mgmt_ip", errsA[0].Field)
	assert.Equal(t, "Duplicate management IP '10.0.0.10' found in the same job.", errsA[0].Message)
	assert.Equal(t, "Conflict with device ID 2.", errsA[0].Suggestion)

	errsB := ValidateDevice(b, all)
	require.Len(t, errsB, 1)
	assert.Equal(t, "Conflict with device ID 1.", errsB[0].Suggestion)
}

func TestValidateDevice_DuplicateIPOrderIndependent(t *testing.T) {
	a := validDevice(1)
	b := validDevice(2)
	b.Hostname = "sw-lab-02"

	forward := ValidateDevice(a, []*model.Device{a, b})
	reversed := ValidateDevice(a, []*model.Device{b, a})
	assert.Equal(t, forward, reversed)
}

func TestValidateDevice_DuplicatePort(t *testing.T) {
	a := validDevice(1)
	a.Port = 3
	b := validDevice(2)
	b.MgmtIP = "10.0.0.11"
	b.Port = 3
	errs := ValidateDevice(a, []*model.Device{a, b})
	require.Len(t, errs, 1)
	assert.Equal(t, "port", errs[0].Field)
	assert.Equal(t, "Port 3 is already assigned to another device in this job.", errs[0].Message)
}

func TestValidateDevice_UnsetPortNoConflict(t *testing.T) {
	// Port 0 means unassigned; two unassigned devices never conflict.
	a := validDevice(1)
	b := validDevice(2)
	b.MgmtIP = "10.0.0.11"
	assert.Empty(t, ValidateDevice(a, []*model.Device{a, b}))
}

func TestValidateDevice_Ranges(t *testing.T) {
	d := validDevice(1)
	d.MgmtVLAN = 5000
	errs := ValidateDevice(d, []*model.Device{d})
	require.Len(t, errs, 1)
	assert.Equal(t, "Invalid VLAN: 5000. Must be between 1 and 4094.", errs[0].Message)

	d = validDevice(1)
	d.Port = 17
	errs = ValidateDevice(d, []*model.Device{d})
	require.Len(t, errs, 1)
	assert.Equal(t, "Invalid port: 17. Raspberry Pi adapter only supports ports 1-16.", errs[0].Message)
}

func TestValidateJob_Aggregates(t *testing.T) {
	a := validDevice(1)
	b := validDevice(2)
	b.Hostname = "bad host"
	errs := ValidateJob([]*model.Device{a, b})

	// a and b share an IP, and b has a bad hostname.
	assert.Len(t, errs, 3)
}
