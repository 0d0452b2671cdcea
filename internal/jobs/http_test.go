package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestServer(t *testing.T, svc *Service, m *Metrics) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(svc, m, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func TestHandlerJobLifecycle(t *testing.T) {
	svc := newTestService(t, &fakeBackend{payload: []byte("wav-bytes")})
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/jobs", SubmitRequest{Text: "hello there"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	var submitted SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if submitted.JobID == "" || submitted.Status != StatusPending {
		t.Fatalf("Unexpected submit response: %+v", submitted)
	}

	waitForStatus(t, svc, submitted.JobID, StatusCompleted)

	statusResp, err := http.Get(srv.URL + "/jobs/" + submitted.JobID)
	if err != nil {
		t.Fatal(err)
	}
	defer statusResp.Body.Close()
	var job Job
	if err := json.NewDecoder(statusResp.Body).Decode(&job); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if job.Status != StatusCompleted || job.Progress != 1.0 {
		t.Errorf("Expected completed job at 1.0, got %s %v", job.Status, job.Progress)
	}

	artResp, err := http.Get(srv.URL + job.ArtifactURL)
	if err != nil {
		t.Fatal(err)
	}
	defer artResp.Body.Close()
	if artResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for artifact, got %d", artResp.StatusCode)
	}
	if ct := artResp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Expected audio/wav, got %q", ct)
	}
	body, _ := io.ReadAll(artResp.Body)
	if string(body) != "wav-bytes" {
		t.Errorf("Expected artifact body, got %q", body)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/artifacts/"+submitted.JobID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 for delete, got %d", delResp.StatusCode)
	}

	goneResp, err := http.Get(srv.URL + "/artifacts/" + submitted.JobID)
	if err != nil {
		t.Fatal(err)
	}
	goneResp.Body.Close()
	if goneResp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", goneResp.StatusCode)
	}
	t.Log("✓ submit, poll, fetch and delete over HTTP")
}

func TestHandlerErrors(t *testing.T) {
	svc := newTestService(t, &fakeBackend{})
	srv := newTestServer(t, svc, nil)

	tests := []struct {
		name   string
		do     func() (*http.Response, error)
		status int
	}{
		{"empty text", func() (*http.Response, error) {
			return http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(`{"text":"   "}`))
		}, http.StatusBadRequest},
		{"too long", func() (*http.Response, error) {
			body, _ := json.Marshal(SubmitRequest{Text: strings.Repeat("a", 1001)})
			return http.Post(srv.URL+"/jobs", "application/json", bytes.NewReader(body))
		}, http.StatusBadRequest},
		{"malformed", func() (*http.Response, error) {
			return http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(`{"text":`))
		}, http.StatusBadRequest},
		{"unknown job", func() (*http.Response, error) {
			return http.Get(srv.URL + "/jobs/does-not-exist")
		}, http.StatusNotFound},
		{"unknown artifact", func() (*http.Response, error) {
			return http.Get(srv.URL + "/artifacts/does-not-exist")
		}, http.StatusNotFound},
		{"wrong method", func() (*http.Response, error) {
			return http.Get(srv.URL + "/jobs")
		}, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.do()
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
			if tt.status == http.StatusMethodNotAllowed {
				return
			}
			var e ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("Expected JSON error body, got %+v (%v)", e, err)
			}
		})
	}
}

func TestHandlerSynthesizeAndHealth(t *testing.T) {
	svc := newTestService(t, &fakeBackend{})
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/synthesize", SubmitRequest{Text: "now please", Format: FormatMP3})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	if job.Status != StatusCompleted || job.ArtifactURL == "" {
		t.Errorf("Expected completed job with artifact, got %+v", job)
	}

	artResp, err := http.Get(srv.URL + job.ArtifactURL)
	if err != nil {
		t.Fatal(err)
	}
	artResp.Body.Close()
	if ct := artResp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %q", ct)
	}

	healthResp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer healthResp.Body.Close()
	var health HealthResponse
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Jobs != 1 || health.Backend["backend"] != "fake" {
		t.Errorf("Unexpected health: %+v", health)
	}

	infoResp, err := http.Get(srv.URL + "/models/info")
	if err != nil {
		t.Fatal(err)
	}
	infoResp.Body.Close()
	if infoResp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for model info, got %d", infoResp.StatusCode)
	}
}

func TestHandlerShuttingDown(t *testing.T) {
	svc := newTestService(t, &fakeBackend{})
	srv := newTestServer(t, svc, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	resp := postJSON(t, srv.URL+"/jobs", SubmitRequest{Text: "too late"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestHandlerRecordsHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	svc := newTestService(t, &fakeBackend{}, WithMetrics(m))
	mux := http.NewServeMux()
	NewHandler(svc, m, nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/jobs/{id}", "404")); got != 1 {
		t.Errorf("Expected one 404 request recorded, got %v", got)
	}
}
