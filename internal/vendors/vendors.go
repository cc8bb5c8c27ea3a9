// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package vendors renders and verifies per-vendor bootstrap command streams.
// Adapters are selected from a closed registry by the device's declared
// vendor id; unknown ids fall back to the generic adapter.
package vendors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/policy"
)

// Params are the template inputs for a device's bootstrap stream.
type Params struct {
	Hostname string
	MgmtIP   string
	MgmtMask string
	Gateway  string
	MgmtVLAN int
}

// ParamsFromDevice builds template params from a device row, normalizing the
// mask to dotted decimal.
func ParamsFromDevice(d *model.Device) Params {
	return Params{
		Hostname: d.Hostname,
		MgmtIP:   d.MgmtIP,
		MgmtMask: policy.NormalizeMask(d.Mask),
		Gateway:  d.Gateway,
		MgmtVLAN: d.MgmtVLAN,
	}
}

// Vendor is the adapter capability for one switch family.
type Vendor interface {
	// VendorID returns the stable registry identifier.
	VendorID() string

	// Detect estimates confidence in [0,1] that a console transcript
	// belongs to this vendor. Not consulted on the bootstrap path; the
	// declared vendor wins.
	Detect(transcript string) float64

	// BootstrapCommands renders the ordered command blocks.
	BootstrapCommands(p Params) ([]model.CommandBlock, error)

	// VerifyCommands returns the post-configuration show commands.
	VerifyCommands(p Params) []string

	// SaveCommands returns the commands that persist the configuration.
	SaveCommands(p Params) []string

	// ParseVerify inspects the concatenated verify transcript.
	ParseVerify(transcript string, p Params) model.VerifyResult
}

// registry maps vendor ids (and aliases) to adapters. Extend here when a new
// family is supported.
var registry = map[string]Vendor{
	"generic":   &Generic{},
	"cisco":     &Cisco{},
	"cisco_ios": &Cisco{},
}

// Get returns the adapter for a vendor id, falling back to generic.
func Get(vendorID string) Vendor {
	if v, ok := registry[strings.ToLower(strings.TrimSpace(vendorID))]; ok {
		return v
	}
	return registry["generic"]
}

// RenderPreview flattens the bootstrap blocks into the command stream that
// previews show and the template hash covers.
func RenderPreview(blocks []model.CommandBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		fmt.Fprintf(&b, "! Block: %s\n", block.Name)
		for _, cmd := range block.Commands {
			b.WriteString(cmd)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// TemplateHash returns the first 12 hex characters of the SHA-256 over the
// rendered command stream. Stable for unchanged device parameters, so a
// run record stays attributable to what was applied.
func TemplateHash(stream string) string {
	sum := sha256.Sum256([]byte(stream))
	return hex.EncodeToString(sum[:])[:12]
}

// validate rejects params the templates cannot render.
func (p Params) validate() error {
	if p.Hostname == "" {
		return fmt.Errorf("template requires hostname")
	}
	if p.MgmtIP == "" {
		return fmt.Errorf("template requires mgmt_ip")
	}
	return nil
}
