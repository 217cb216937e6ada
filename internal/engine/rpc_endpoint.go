package engine

import (
	"net/url"
	"time"
)

// endpointStatus is the per-endpoint health record. Endpoints are
// statically configured; the record is created at startup and never
// removed. Mutated only under RPCManager.mu.
type endpointStatus struct {
	url          string
	healthy      bool
	lastError    string
	errorCount   int64
	lastChecked  time.Time
	responseTime time.Duration

	// rate-limit cooldown: while cooling and before retryAfter the
	// endpoint is excluded from selection; once retryAfter passes it is
	// re-enabled automatically, no explicit reset needed.
	cooling    bool
	retryAfter time.Time
}

// EndpointStats is the read snapshot exposed to observers. The endpoint
// identity is redacted to host only; commercial RPC URLs embed API keys
// in the path.
type EndpointStats struct {
	Endpoint     string        `json:"endpoint"`
	Healthy      bool          `json:"healthy"`
	Cooling      bool          `json:"cooling"`
	LastError    string        `json:"last_error,omitempty"`
	ErrorCount   int64         `json:"error_count"`
	LastChecked  time.Time     `json:"last_checked"`
	ResponseTime time.Duration `json:"response_time"`
}

func (e *endpointStatus) snapshot() EndpointStats {
	return EndpointStats{
		Endpoint:     redactEndpoint(e.url),
		Healthy:      e.healthy,
		Cooling:      e.cooling,
		LastError:    e.lastError,
		ErrorCount:   e.errorCount,
		LastChecked:  e.lastChecked,
		ResponseTime: e.responseTime,
	}
}

// redactEndpoint 掩码 URL（保护密钥）: host only, no credentials or path.
func redactEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Unparseable: fall back to a blunt mask rather than leaking.
		if len(raw) > 20 {
			return raw[:10] + "..." + raw[len(raw)-4:]
		}
		return raw
	}
	return u.Host
}
