package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// InstrumentTransport counts and times outgoing batch provider requests.
func (m *PipelineMetrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		path := normalizePath(r.URL.Path)

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		resp, err := next.RoundTrip(r)

		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		m.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// normalizePath keeps ids out of label values.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/batches/"):
		return "/v1/batches/{batch_id}"
	case strings.HasPrefix(path, "/v1/files/") && strings.HasSuffix(path, "/content"):
		return "/v1/files/{file_id}/content"
	case strings.HasPrefix(path, "/v1/files/"):
		return "/v1/files/{file_id}"
	default:
		return path
	}
}
