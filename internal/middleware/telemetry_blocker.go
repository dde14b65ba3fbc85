package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TelemetryBlockerMiddleware intercepts requests aimed at a known vendor
// telemetry/analytics endpoint instead of the actual chat-completions
// endpoint, and answers them locally with a plausible 2xx body rather than
// forwarding them — since this proxy only speaks one protocol (in-band
// tool-call middleware), a client's background telemetry call has nowhere
// useful to go and would otherwise surface as a confusing upstream error.
//
// Adapted from the teacher's internal/middleware/{metrics_blocker,
// statsig_blocker}.go, merged into one file and generalized from two
// hardcoded Anthropic-specific vendor hosts into a small table of known
// telemetry endpoint patterns, so a future vendor's equivalent can be added
// without a new file.
type TelemetryBlockerMiddleware struct {
	logger *slog.Logger
}

type telemetryEndpoint struct {
	hostContains string
	pathPrefixes []string
	respond      func(http.ResponseWriter)
}

var knownTelemetryEndpoints = []telemetryEndpoint{
	{
		hostContains: "api.anthropic.com",
		pathPrefixes: []string{"/api/claude_code/metrics", "/claude_code/metrics"},
		respond:      respondMetricsAccepted,
	},
	{
		hostContains: "statsig.anthropic.com",
		pathPrefixes: []string{"/v1/initialize", "/v1/log_event", "/v1/rgstr", "/statsig", "/telemetry", "/analytics"},
		respond:      respondStatsigAccepted,
	},
}

func NewTelemetryBlockerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tbm := &TelemetryBlockerMiddleware{logger: logger}
	return tbm.middleware
}

func (tbm *TelemetryBlockerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		for _, ep := range knownTelemetryEndpoints {
			if !strings.Contains(host, ep.hostContains) {
				continue
			}
			for _, prefix := range ep.pathPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					tbm.logger.Debug("blocked telemetry request", "host", host, "path", r.URL.Path)
					ep.respond(w)
					return
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

func respondMetricsAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"accepted_count":0,"rejected_count":0}`))
}

func respondStatsigAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"success":true}`))
}
