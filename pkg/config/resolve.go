package config

import (
	"net"

	"github.com/Dbillionaer/llm-council-local/pkg/models"
)

// ResolveEndpoint applies the per-model, then global, then built-in
// default precedence to produce a concrete endpoint for modelID. It is a
// pure function of cfg: callers pass the loaded document and get back the
// same endpoint every time for the same inputs.
func ResolveEndpoint(modelID string, cfg Config) models.ModelEndpoint {
	for _, m := range cfg.Models.CouncilMembers {
		if m.ModelID != modelID {
			continue
		}
		return fillDefaults(m, cfg)
	}
	if cfg.Models.Chairman == modelID {
		return fillDefaults(models.ModelEndpoint{ModelID: modelID}, cfg)
	}
	return fillDefaults(models.ModelEndpoint{ModelID: modelID}, cfg)
}

func fillDefaults(m models.ModelEndpoint, cfg Config) models.ModelEndpoint {
	if m.BaseURL == "" {
		if cfg.Server.APIBaseURL != "" {
			m.BaseURL = cfg.Server.APIBaseURL
		} else if cfg.Server.IPAddress != "" {
			// leave BaseURL empty; llmclient derives it from IPAddress+Port
			m.IPAddress = cfg.Server.IPAddress
			m.Port = cfg.Server.Port
		} else {
			m.BaseURL = DefaultBaseURL
		}
	}
	if m.APIKey == "" {
		m.APIKey = cfg.Server.APIKey
	}
	if m.IPAddress == "" {
		m.IPAddress = cfg.Server.IPAddress
	}
	if m.Port == 0 {
		m.Port = cfg.Server.Port
	}
	return m
}

// DetectLocalIP returns the machine's outbound-facing IP address by
// opening a UDP "connection" to a public address without sending any
// traffic, falling back to loopback if the lookup fails (offline dev
// boxes, sandboxed CI).
func DetectLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
