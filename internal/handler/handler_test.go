package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/analytics/internal/i18n"
	"github.com/pavelanni/analytics/internal/metrics"
	"github.com/pavelanni/analytics/internal/model"
	"github.com/pavelanni/analytics/internal/observability"
	"github.com/pavelanni/analytics/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type stubSource struct {
	instances   map[string]model.DeploymentInstance
	activities  map[string]model.Activity
	submissions map[string][]model.Submission

	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubSource) hit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *stubSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSource) GetSubmission(_ context.Context, instanceID, studentID string) (*model.Submission, error) {
	if err := s.hit(); err != nil {
		return nil, err
	}
	for _, sub := range s.submissions[instanceID] {
		if sub.StudentID == studentID {
			return &sub, nil
		}
	}
	return nil, nil
}

func (s *stubSource) GetActivity(_ context.Context, activityID string) (*model.Activity, error) {
	if err := s.hit(); err != nil {
		return nil, err
	}
	if a, ok := s.activities[activityID]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *stubSource) GetInstance(_ context.Context, instanceID string) (*model.DeploymentInstance, error) {
	if err := s.hit(); err != nil {
		return nil, err
	}
	if i, ok := s.instances[instanceID]; ok {
		return &i, nil
	}
	return nil, nil
}

func (s *stubSource) GetInstanceSubmissions(_ context.Context, instanceID string) ([]model.Submission, error) {
	if err := s.hit(); err != nil {
		return nil, err
	}
	return s.submissions[instanceID], nil
}

func answersOf(picks ...string) model.Answers {
	var out model.Answers
	for i := 0; i+1 < len(picks); i += 2 {
		out = append(out, model.QuestionAnswer{
			QuestionID: picks[i],
			Answer:     model.Answer{SelectedOption: picks[i+1], Rationale: "because " + picks[i+1]},
		})
	}
	return out
}

func newStubSource() *stubSource {
	ex := []model.Exercise{
		{Question: "1+1", Options: []string{"A", "B"}, CorrectOptions: "A"},
		{Question: "2+2", Options: []string{"A", "B"}, CorrectOptions: "B"},
	}
	return &stubSource{
		instances: map[string]model.DeploymentInstance{
			"inst-1": {InstanceID: "inst-1", ActivityID: "act-1"},
			"inst-2": {InstanceID: "inst-2", ActivityID: "act-1"},
		},
		activities: map[string]model.Activity{
			"act-1": {ActivityID: "act-1", NumberOfExercises: 2, TotalTimeMinutes: 10, Exercises: ex},
		},
		submissions: map[string][]model.Submission{
			"inst-1": {
				{StudentID: "alice", Attempts: []model.AttemptResult{
					{Answers: answersOf("q0", "A", "q1", "B"), TimeSpentSeconds: intPtr(30)},
				}},
				{StudentID: "bob", Attempts: []model.AttemptResult{
					{Answers: answersOf("q0", "B"), SubmittedAt: "2025-03-01T10:00:00Z"},
					{Answers: answersOf("q0", "A"), SubmittedAt: "2025-03-01T10:02:00Z"},
				}},
			},
		},
	}
}

func intPtr(v int) *int { return &v }

type testServer struct {
	srv   *httptest.Server
	src   *stubSource
	store *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	src := newStubSource()
	obs := observability.New()
	engine := metrics.NewEngine(src, st, metrics.Config{Concurrency: 2, Metrics: obs})
	h := New(engine, metrics.NewContracts(st), st, obs)
	h.now = func() time.Time { return time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC) }

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, src: src, store: st}
}

func (ts *testServer) do(t *testing.T, method, path, body string, hdr ...string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", "", "Origin", "http://example.com")
	expectStatus(t, resp, http.StatusOK)

	got := decode[map[string]string](t, resp)
	if got["status"] != "ok" || got["service"] != "mrnewton-analytics" {
		t.Errorf("unexpected health body %v", got)
	}
	if got["timestamp"] != "2025-03-02T08:00:00Z" {
		t.Errorf("unexpected timestamp %q", got["timestamp"])
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected permissive CORS header")
	}
}

func TestStudentMetrics(t *testing.T) {
	ts := newTestServer(t)
	path := APIPrefix + "/instances/inst-1/students/alice/metrics"

	resp := ts.do(t, http.MethodGet, path, "")
	expectStatus(t, resp, http.StatusOK)
	m := decode[model.AnalyticsMetrics](t, resp)
	if m.Metrics.NumberOfCorrectAnswers != 2 || m.Metrics.FinalScore != 1.0 || !m.Metrics.ActivitySuccess {
		t.Errorf("unexpected metrics %+v", m.Metrics)
	}
	if len(m.Qualitative.AnswerRationale) != 2 {
		t.Errorf("expected 2 rationales, got %v", m.Qualitative.AnswerRationale)
	}
	calls := ts.src.callCount()

	// Second call is served from the cache.
	resp = ts.do(t, http.MethodGet, path, "")
	expectStatus(t, resp, http.StatusOK)
	if n := ts.src.callCount(); n != calls {
		t.Errorf("expected no source calls on cached read, got %d", n-calls)
	}

	resp = ts.do(t, http.MethodGet, path+"?force_recalculate=true", "")
	expectStatus(t, resp, http.StatusOK)
	if ts.src.callCount() == calls {
		t.Error("expected force_recalculate to hit the source")
	}
}

func TestStudentMetricsErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		upstream error
		status   int
		code     string
	}{
		{"unknown student", "/instances/inst-1/students/nobody/metrics", nil, http.StatusNotFound, codeNotFound},
		{"unknown instance", "/instances/nope/students/alice/metrics", nil, http.StatusNotFound, codeNotFound},
		{"bad force flag", "/instances/inst-1/students/alice/metrics?force_recalculate=maybe", nil, http.StatusBadRequest, codeInvalidInput},
		{"upstream down", "/instances/inst-1/students/alice/metrics", fmt.Errorf("dial: %w", model.ErrUpstreamUnavailable), http.StatusBadGateway, codeUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.src.setErr(tt.upstream)

			resp := ts.do(t, http.MethodGet, APIPrefix+tt.path, "")
			expectStatus(t, resp, tt.status)
			body := decode[errorBody](t, resp)
			if body.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, body.Code)
			}
			if body.Error == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestInstanceMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, APIPrefix+"/instances/inst-1/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	list := decode[[]model.AnalyticsMetrics](t, resp)
	if len(list) != 2 || list[0].StudentID != "alice" || list[1].StudentID != "bob" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[1].Metrics.TotalTimeSeconds != 120 {
		t.Errorf("expected bob's time from timestamps (120), got %d", list[1].Metrics.TotalTimeSeconds)
	}

	resp = ts.do(t, http.MethodGet, APIPrefix+"/instances/inst-1/metrics/cached", "")
	expectStatus(t, resp, http.StatusOK)
	cached := decode[[]model.AnalyticsMetrics](t, resp)
	if len(cached) != 2 {
		t.Errorf("expected 2 cached rows, got %d", len(cached))
	}
}

func TestInstanceMetricsEmpty(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, APIPrefix+"/instances/inst-2/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty JSON array, got %s", body)
	}

	resp = ts.do(t, http.MethodGet, APIPrefix+"/instances/inst-2/metrics/cached", "")
	expectStatus(t, resp, http.StatusOK)
	body, _ = io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty cached list, got %s", body)
	}
}

func TestDeleteStudentMetrics(t *testing.T) {
	ts := newTestServer(t)
	path := APIPrefix + "/instances/inst-1/students/alice/metrics"

	resp := ts.do(t, http.MethodDelete, path, "")
	expectStatus(t, resp, http.StatusNotFound)
	body := decode[errorBody](t, resp)
	if !strings.Contains(body.Error, "alice") {
		t.Errorf("expected message naming the student, got %q", body.Error)
	}

	expectStatus(t, ts.do(t, http.MethodGet, path, ""), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodDelete, path, ""), http.StatusNoContent)

	row, err := ts.store.GetMetrics(context.Background(), "inst-1", "alice")
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if row != nil {
		t.Errorf("expected cached row removed, got %+v", row)
	}
}

func TestContractEndpoints(t *testing.T) {
	ts := newTestServer(t)
	path := APIPrefix + "/contract"

	resp := ts.do(t, http.MethodGet, path, "", "Accept-Language", "pt-BR")
	expectStatus(t, resp, http.StatusNotFound)
	body := decode[errorBody](t, resp)
	if body.Error != "Nenhum contrato de analytics configurado" {
		t.Errorf("expected localized message, got %q", body.Error)
	}

	resp = ts.do(t, http.MethodPost, path, `{
		"qualAnalytics": [{"name": "answer_rationale", "type": "array"}],
		"quantAnalytics": [{"name": "final_score", "type": "number", "description": "score"}]
	}`)
	expectStatus(t, resp, http.StatusCreated)
	saved := decode[model.AnalyticsContract](t, resp)
	if saved.ID == "" || saved.SavedAt == nil {
		t.Errorf("expected id and saved_at, got %+v", saved)
	}

	resp = ts.do(t, http.MethodGet, path, "")
	expectStatus(t, resp, http.StatusOK)
	got := decode[model.AnalyticsContract](t, resp)
	if got.ID != saved.ID || len(got.Quantitative) != 1 {
		t.Errorf("unexpected current contract %+v", got)
	}
}

func TestSaveContractInvalid(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"malformed json", `{"qualAnalytics": [`, "body"},
		{"missing type", `{"quantAnalytics": [{"name": "final_score"}]}`, "quantAnalytics[0].type"},
		{"bad type", `{"qualAnalytics": [{"name": "x", "type": "text"}]}`, "qualAnalytics[0].type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, http.MethodPost, APIPrefix+"/contract", tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			body := decode[errorBody](t, resp)
			if body.Code != codeInvalidInput {
				t.Errorf("expected %s, got %s", codeInvalidInput, body.Code)
			}
			if len(body.Details) == 0 || body.Details[0].Field != tt.wantField {
				t.Errorf("expected detail for %q, got %+v", tt.wantField, body.Details)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodOptions, APIPrefix+"/contract", "",
		"Origin", "http://example.com",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Content-Type",
	)
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected any origin allowed, got %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Errorf("expected requested headers echoed, got %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Errorf("expected requested method allowed, got %q", got)
	}
}

func TestCORSWithoutOrigin(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", "")
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS headers without Origin, got %q", got)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	expectStatus(t, ts.do(t, http.MethodGet, APIPrefix+"/instances/inst-1/students/alice/metrics", ""), http.StatusOK)

	resp := ts.do(t, http.MethodGet, "/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `analytics_computations_total{outcome="ok",scope="student"} 1`) {
		t.Errorf("expected computation counter in scrape, got:\n%s", body)
	}
}
