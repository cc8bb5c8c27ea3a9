// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vendors

import (
	"fmt"
	"strings"
	"text/template"

	"grimm.is/switchboot/internal/model"
)

// genericBootstrap is a lowest-common-denominator stream for unrecognized
// switches; everything it relies on is industry-standard CLI.
var genericBootstrap = template.Must(template.New("generic").Parse(
	`hostname {{.Hostname}}
interface vlan 1
ip address {{.MgmtIP}} {{.MgmtMask}}
{{- if .Gateway}}
ip default-gateway {{.Gateway}}
{{- end}}
`))

// Generic is the fallback adapter used when no vendor is declared or the
// declared id is unknown.
type Generic struct{}

func (g *Generic) VendorID() string { return "generic" }

func (g *Generic) Detect(transcript string) float64 {
	// Matches anything, barely.
	return 0.1
}

func (g *Generic) BootstrapCommands(p Params) ([]model.CommandBlock, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var body strings.Builder
	if err := genericBootstrap.Execute(&body, p); err != nil {
		return nil, fmt.Errorf("render generic bootstrap: %w", err)
	}
	var cmds []string
	for _, line := range strings.Split(body.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			cmds = append(cmds, line)
		}
	}

	return []model.CommandBlock{
		{Name: "Bootstrap", Commands: cmds, Critical: true},
	}, nil
}

func (g *Generic) VerifyCommands(p Params) []string {
	return []string{"show running-config"}
}

func (g *Generic) SaveCommands(p Params) []string {
	return []string{"write", "copy run start"}
}

// ParseVerify is prompt-agnostic: with no vendor knowledge there is nothing
// to assert, so the result is a single successful task.
func (g *Generic) ParseVerify(transcript string, p Params) model.VerifyResult {
	return model.VerifyResult{
		Success: true,
		Details: "Generic verification complete",
		Tasks: []model.TaskResult{
			{Name: "generic", Status: "success", Message: "Generic verification complete"},
		},
	}
}
