// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy implements the pre-flight device validation rules. All
// functions are pure; callers aggregate results across devices.
package policy

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"grimm.is/switchboot/internal/model"
)

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9-]{1,63}$`)

// NormalizeMask converts a prefix length ("/24" or "24") to dotted decimal.
// A value that is already dotted decimal, or unparseable, is returned as is;
// ValidateDevice rejects the latter.
func NormalizeMask(mask string) string {
	mask = strings.TrimSpace(mask)
	digits := strings.TrimPrefix(mask, "/")
	if prefix, err := strconv.Atoi(digits); err == nil && prefix >= 0 && prefix <= 32 {
		m := net.CIDRMask(prefix, 32)
		return net.IP(m).String()
	}
	return mask
}

// parseMask returns the mask as a net.IPMask if it is a contiguous IPv4
// netmask in dotted decimal.
func parseMask(dotted string) (net.IPMask, bool) {
	ip := net.ParseIP(dotted)
	if ip == nil {
		return nil, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, false
	}
	m := net.IPMask(v4)
	// Size returns (0, 0) for non-contiguous masks; a /0 mask is also
	// rejected because it would make every gateway "in subnet".
	if ones, bits := m.Size(); bits == 0 || ones == 0 {
		return nil, false
	}
	return m, true
}

func parseIPv4(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	return ip.To4()
}

// ValidateDevice checks one device against the policy rules, using the full
// device set of its job for duplicate detection. The returned set is
// order-independent.
func ValidateDevice(device *model.Device, allDevices []*model.Device) []model.ValidationError {
	var errs []model.ValidationError
	add := func(field, message, suggestion string) {
		errs = append(errs, model.ValidationError{
			Field:      field,
			DeviceID:   device.ID,
			Message:    message,
			Suggestion: suggestion,
		})
	}

	if !hostnameRegex.MatchString(device.Hostname) {
		add("hostname",
			fmt.Sprintf("Invalid hostname: '%s'. Must be 1-63 chars, alphanumeric or hyphen, no spaces.", device.Hostname),
			"Use something like 'sw-lab-01'.")
	}

	ip := parseIPv4(device.MgmtIP)
	if ip == nil {
		add("mgmt_ip", fmt.Sprintf("Invalid IPv4 address: '%s'.", device.MgmtIP), "")
	}

	normMask := NormalizeMask(device.Mask)
	mask, maskOK := parseMask(normMask)
	if !maskOK {
		add("mask", fmt.Sprintf("Invalid subnet mask: '%s'.", device.Mask), "")
	}

	if ip != nil && maskOK {
		gw := parseIPv4(device.Gateway)
		if gw == nil {
			add("gateway", fmt.Sprintf("Invalid Gateway IPv4: '%s'.", device.Gateway), "")
		} else if !ip.Mask(mask).Equal(gw.Mask(mask)) {
			add("gateway",
				fmt.Sprintf("Gateway '%s' is not in the same subnet as IP '%s/%s'.", device.Gateway, device.MgmtIP, normMask),
				"")
		}
	}

	for _, other := range allDevices {
		if other.ID == device.ID {
			continue
		}
		if other.MgmtIP == device.MgmtIP {
			add("mgmt_ip",
				fmt.Sprintf("Duplicate management IP '%s' found in the same job.", device.MgmtIP),
				fmt.Sprintf("Conflict with device ID %d.", other.ID))
			break
		}
	}

	if device.Port != 0 {
		for _, other := range allDevices {
			if other.ID == device.ID {
				continue
			}
			if other.Port == device.Port {
				add("port",
					fmt.Sprintf("Port %d is already assigned to another device in this job.", device.Port),
					fmt.Sprintf("Conflict with device ID %d.", other.ID))
				break
			}
		}
	}

	if device.MgmtVLAN != 0 && (device.MgmtVLAN < model.MinVLAN || device.MgmtVLAN > model.MaxVLAN) {
		add("mgmt_vlan",
			fmt.Sprintf("Invalid VLAN: %d. Must be between 1 and 4094.", device.MgmtVLAN), "")
	}

	if device.Port != 0 && (device.Port < 1 || device.Port > model.MaxPorts) {
		add("port",
			fmt.Sprintf("Invalid port: %d. Raspberry Pi adapter only supports ports 1-16.", device.Port), "")
	}

	return errs
}

// ValidateJob runs ValidateDevice over every device of a job and aggregates
// the results. Used by the dry-run endpoint.
func ValidateJob(devices []*model.Device) []model.ValidationError {
	var all []model.ValidationError
	for _, d := range devices {
		all = append(all, ValidateDevice(d, devices)...)
	}
	return all
}
