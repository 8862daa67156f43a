package controlclient

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// Metric family names served by package metrics.
const (
	metricRequests  = "mockhost_requests_total"
	metricUnmatched = "mockhost_unmatched_requests_total"
	metricDuration  = "mockhost_request_duration_seconds"
)

// ServerStats summarizes the request metrics of one server.
type ServerStats struct {
	ServerID        string         `json:"serverId"`
	Requests        int64          `json:"requests"`
	Unmatched       int64          `json:"unmatched"`
	ByStatus        map[string]int `json:"byStatus"`
	MeanResponseSec float64        `json:"meanResponseSeconds"`
}

// Metrics fetches and parses the /metrics exposition.
func (c *Client) Metrics(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{
			Code:    CodeConnection,
			Message: fmt.Sprintf("cannot connect to control API at %s: %v", c.baseURL, err),
			Err:     err,
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	return families, nil
}

// Stats returns per-server request statistics sorted by server id.
func (c *Client) Stats(ctx context.Context) ([]ServerStats, error) {
	families, err := c.Metrics(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(families), nil
}

func summarize(families map[string]*dto.MetricFamily) []ServerStats {
	byServer := make(map[string]*ServerStats)
	get := func(id string) *ServerStats {
		s, ok := byServer[id]
		if !ok {
			s = &ServerStats{ServerID: id, ByStatus: make(map[string]int)}
			byServer[id] = s
		}
		return s
	}

	if fam := families[metricRequests]; fam != nil {
		for _, m := range fam.GetMetric() {
			s := get(label(m, "server"))
			n := int64(m.GetCounter().GetValue())
			s.Requests += n
			s.ByStatus[label(m, "status")] += int(n)
		}
	}
	if fam := families[metricUnmatched]; fam != nil {
		for _, m := range fam.GetMetric() {
			get(label(m, "server")).Unmatched += int64(m.GetCounter().GetValue())
		}
	}
	if fam := families[metricDuration]; fam != nil {
		for _, m := range fam.GetMetric() {
			h := m.GetHistogram()
			if h.GetSampleCount() > 0 {
				get(label(m, "server")).MeanResponseSec = h.GetSampleSum() / float64(h.GetSampleCount())
			}
		}
	}

	out := make([]ServerStats, 0, len(byServer))
	for _, s := range byServer {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
