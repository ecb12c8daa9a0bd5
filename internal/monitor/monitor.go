// Package monitor scrapes the metrics listener of a locally running
// cloudflared agent and distills it into a small tunnel-level snapshot.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
)

const (
	metricTotalRequests  = "cloudflared_tunnel_total_requests"
	metricActiveStreams  = "cloudflared_tunnel_active_streams"
	metricRequestErrors  = "cloudflared_tunnel_request_errors"
	metricResponseByCode = "cloudflared_tunnel_response_by_code"
)

// Snapshot is one scrape of the agent's tunnel metrics. Fields are nil
// when the agent did not expose the series, which happens on agents
// that have served no traffic yet.
type Snapshot struct {
	TotalRequests *float64
	ActiveStreams *float64
	RequestErrors *float64
	Responses     []LabeledValue
	At            time.Time
}

// LabeledValue is one labeled series sample, such as a per-status-code
// response count.
type LabeledValue struct {
	Label string
	Value float64
}

// Client scrapes one metrics endpoint.
type Client struct {
	log     *logrus.Logger
	options options
}

// NewClient builds a scraper for the agent's metrics listener.
func NewClient(log *logrus.Logger, opts ...Option) *Client {
	return &Client{
		log:     log,
		options: collectOptions(opts),
	}
}

// Fetch performs one scrape. Failure to reach the endpoint usually
// means the agent is not running.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.options.endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build metrics request")
	}
	resp, err := c.options.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "reach metrics endpoint")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("metrics endpoint returned %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "parse metrics exposition")
	}
	return distill(families), nil
}

// Watch scrapes on an interval until the context ends, reporting each
// scrape (or scrape failure) to fn.
func (c *Client) Watch(ctx context.Context, interval time.Duration, fn func(*Snapshot, error)) error {
	if interval <= 0 {
		interval = IntervalDefault
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := c.Fetch(ctx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.log.WithError(err).Debugf("metrics scrape failed")
		}
		fn(snap, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// distill flattens the exposition down to the tunnel-level series,
// summing across label sets so multi-connection agents report totals.
func distill(families map[string]*dto.MetricFamily) *Snapshot {
	snap := &Snapshot{At: time.Now()}
	if v, ok := sum(families[metricTotalRequests]); ok {
		snap.TotalRequests = &v
	}
	if v, ok := sum(families[metricActiveStreams]); ok {
		snap.ActiveStreams = &v
	}
	if v, ok := sum(families[metricRequestErrors]); ok {
		snap.RequestErrors = &v
	}
	if family := families[metricResponseByCode]; family != nil {
		for _, m := range family.Metric {
			snap.Responses = append(snap.Responses, LabeledValue{
				Label: labelString(m),
				Value: sampleValue(m),
			})
		}
		sort.Slice(snap.Responses, func(i, j int) bool {
			return snap.Responses[i].Label < snap.Responses[j].Label
		})
	}
	return snap
}

func sum(family *dto.MetricFamily) (total float64, ok bool) {
	if family == nil {
		return 0, false
	}
	for _, m := range family.Metric {
		total += sampleValue(m)
		ok = true
	}
	return
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func labelString(m *dto.Metric) string {
	var parts []string
	for _, l := range m.Label {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return strings.Join(parts, ",")
}

// FormatValue renders a sample for terminal output, compacting large
// values the way operators expect.
func FormatValue(v *float64) string {
	switch {
	case v == nil:
		return "-"
	case *v >= 1e6:
		return fmt.Sprintf("%.1fM", *v/1e6)
	case *v >= 1e3:
		return fmt.Sprintf("%.1fK", *v/1e3)
	}
	return fmt.Sprintf("%.0f", *v)
}
