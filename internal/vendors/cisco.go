// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vendors

import (
	"fmt"
	"strings"
	"text/template"

	"grimm.is/switchboot/internal/model"
)

// ciscoBaseline is the baseline body applied between "conf t" and "end".
// The management SVI is Vlan1 unless a management VLAN is declared.
var ciscoBaseline = template.Must(template.New("cisco").Parse(
	`hostname {{.Hostname}}
{{- if .MgmtVLAN}}
vlan {{.MgmtVLAN}}
 name MGMT
exit
interface Vlan{{.MgmtVLAN}}
{{- else}}
interface Vlan1
{{- end}}
 ip address {{.MgmtIP}} {{.MgmtMask}}
 no shutdown
exit
{{- if .Gateway}}
ip default-gateway {{.Gateway}}
{{- end}}
ip ssh version 2
line vty 0 4
 transport input ssh
 login local
exit
`))

// Cisco drives Cisco IOS and IOS-like switches.
type Cisco struct{}

func (c *Cisco) VendorID() string { return "cisco" }

func (c *Cisco) Detect(transcript string) float64 {
	low := strings.ToLower(transcript)
	if strings.Contains(low, "cisco") || strings.Contains(low, "ios") {
		return 0.9
	}
	return 0.0
}

// BootstrapCommands renders the three-phase stream: entering configuration
// mode and the baseline are critical, the exit-and-save tail is not.
func (c *Cisco) BootstrapCommands(p Params) ([]model.CommandBlock, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var body strings.Builder
	if err := ciscoBaseline.Execute(&body, p); err != nil {
		return nil, fmt.Errorf("render cisco baseline: %w", err)
	}
	var baseline []string
	for _, line := range strings.Split(body.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			baseline = append(baseline, line)
		}
	}

	return []model.CommandBlock{
		{Name: "Enter Configuration", Commands: []string{"conf t"}, Critical: true},
		{Name: "Apply Baseline", Commands: baseline, Critical: true},
		{Name: "Exit and Save", Commands: []string{"end", "write memory"}, Critical: false},
	}, nil
}

func (c *Cisco) VerifyCommands(p Params) []string {
	cmds := []string{"show ip interface brief"}
	if p.MgmtVLAN != 0 {
		cmds = append(cmds, "show vlan brief")
	}
	return append(cmds, "show ip ssh")
}

func (c *Cisco) SaveCommands(p Params) []string {
	return []string{"write memory"}
}

// ParseVerify checks the concatenated verify transcript for the configured
// management IP, the active management VLAN row when one is declared, and
// an enabled SSH server.
func (c *Cisco) ParseVerify(transcript string, p Params) model.VerifyResult {
	low := strings.ToLower(transcript)
	var tasks []model.TaskResult

	addTask := func(name string, ok bool, okMsg, failMsg string) {
		t := model.TaskResult{Name: name, Status: "success", Message: okMsg}
		if !ok {
			t.Status = "failed"
			t.Message = failMsg
			t.Code = model.CodeVerifyFailed
		}
		tasks = append(tasks, t)
	}

	addTask("ip_configured",
		strings.Contains(transcript, p.MgmtIP),
		fmt.Sprintf("Management IP %s present in interface table", p.MgmtIP),
		fmt.Sprintf("Management IP %s not found in interface table", p.MgmtIP))

	if p.MgmtVLAN != 0 {
		addTask("vlan_active",
			ciscoVLANActive(transcript, p.MgmtVLAN),
			fmt.Sprintf("VLAN %d active", p.MgmtVLAN),
			fmt.Sprintf("VLAN %d missing or not active", p.MgmtVLAN))
	}

	addTask("ssh_enabled",
		strings.Contains(low, "ssh enabled"),
		"SSH server enabled",
		"SSH server not enabled")

	success := true
	var failed []string
	for _, t := range tasks {
		if t.Status != "success" {
			success = false
			failed = append(failed, t.Name)
		}
	}
	details := "All verification tasks passed"
	if !success {
		details = "Failed tasks: " + strings.Join(failed, ", ")
	}
	return model.VerifyResult{Success: success, Details: details, Tasks: tasks}
}

// ciscoVLANActive looks for a "show vlan brief" row whose id column matches
// the VLAN and whose status column says active.
func ciscoVLANActive(transcript string, vlan int) bool {
	id := fmt.Sprintf("%d", vlan)
	for _, line := range strings.Split(transcript, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == id && strings.EqualFold(fields[2], "active") {
			return true
		}
	}
	return false
}
