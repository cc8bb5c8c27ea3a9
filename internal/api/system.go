// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"fmt"
	"net/http"

	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/serial"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Switch bootstrap controller API",
	})
}

// handleHealth reports storage reachability and the serial ports present on
// the host. It never requires the passcode.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storage := "ok"
	status := "ok"
	if err := s.store.Ping(); err != nil {
		storage = "unreachable"
		status = "degraded"
	}
	ports := serial.DiscoverPorts(s.cfg.SerialPortBase)
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"storage":      storage,
		"serial_ports": ports,
	})
}

// handlePorts maps each of the sixteen console ports to available or busy,
// where busy means some device in some job claims the port.
func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	inUse, err := s.store.PortsInUse()
	if err != nil {
		notFoundOr500(w, err, "ports")
		return
	}
	ports := make(map[string]string, model.MaxPorts)
	for n := 1; n <= model.MaxPorts; n++ {
		state := "available"
		if inUse[n] {
			state = "busy"
		}
		ports[fmt.Sprintf("port%d", n)] = state
	}
	writeJSON(w, http.StatusOK, ports)
}
