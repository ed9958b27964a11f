package manager

import (
	"strconv"
	"time"

	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/pkg/prom"
)

// Metrics funnels manager instrumentation into the shared prometheus
// registry. A nil *Metrics is valid and records nothing, so tests and the
// CLI can build managers without touching the registry.
type Metrics struct{}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) CountSend(status model.MessageStatus, gatewayID int64) {
	if m == nil {
		return
	}
	gw := "none"
	if gatewayID != 0 {
		gw = strconv.FormatInt(gatewayID, 10)
	}
	prom.IncCounterVec(prom.SystemGateway, prom.MetricSendTotal, status.String(), gw)
}

func (m *Metrics) CountDeliveryReport(status string) {
	if m == nil {
		return
	}
	prom.IncCounterVec(prom.SystemGateway, prom.MetricReportsTotal, status)
}

func (m *Metrics) ObserveRouting(d time.Duration) {
	if m == nil {
		return
	}
	prom.AddHistogram(prom.SystemRouting, prom.MetricRoutingDuration, d.Seconds())
}

func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	prom.AddHistogram(prom.SystemRouting, prom.MetricCandidatesPerRoute, float64(n))
}

func (m *Metrics) ObserveDispatchLag(d time.Duration) {
	if m == nil {
		return
	}
	prom.AddHistogram(prom.SystemQueue, prom.MetricDispatchLag, d.Seconds())
}
