package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	MessagesSent     = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_messages_sent_total", Help: "Messages delivered successfully"})
	MessagesFailed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_messages_failed_total", Help: "Message sends that failed"})
	LoginFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_login_failures_total", Help: "Account logins that failed"})
	SessionFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_session_failures_total", Help: "Browser sessions that failed to open"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "outreach_rate_limit_rejects_total", Help: "Control-plane requests rejected by rate limiter"})
	CampaignsRunning = prometheus.NewGauge(prometheus.GaugeOpts{Name: "outreach_campaigns_running", Help: "Campaigns currently running"})
	LeadsPending     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "outreach_leads_pending", Help: "Pending leads per running campaign"}, []string{"campaign"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			MessagesSent,
			MessagesFailed,
			LoginFailures,
			SessionFailures,
			RateLimitRejects,
			CampaignsRunning,
			LeadsPending,
		)
	})
	return promhttp.Handler()
}
