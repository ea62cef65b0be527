package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/ports"
	"github.com/anstrom/portprobe/internal/probe"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter(logging.DefaultConfig(), io.Discard)
}

// fakeProber answers every port with the statuses in results; ports not
// listed are closed. When block is set, Probe waits for cancellation.
type fakeProber struct {
	mu      sync.Mutex
	results map[int]probe.Status
	block   bool
	err     error
	got     []probe.Request

	// streamErr ends an otherwise complete stream.
	streamErr error
}

func (f *fakeProber) outcomes(req probe.Request) []probe.Outcome {
	var out []probe.Outcome
	for _, p := range req.Ports.Expand() {
		st, ok := f.results[p]
		if !ok {
			st = probe.StatusClosed
		}
		o := probe.Outcome{Port: p, Status: st, Duration: time.Millisecond}
		if st == probe.StatusError {
			o.Err = stderrors.New("network is unreachable")
		}
		out = append(out, o)
	}
	return out
}

func (f *fakeProber) record(req probe.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
}

func (f *fakeProber) lastRequest() probe.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

func (f *fakeProber) Probe(ctx context.Context, req probe.Request) (*probe.Report, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	if f.block {
		<-ctx.Done()
		return &probe.Report{Target: req.Target, Cancelled: true},
			errors.NewCancelled(req.Target, 0, req.Ports.Len(), ctx.Err())
	}

	report := &probe.Report{
		ID:       "6f1d3c0e-1b7a-4a57-9d51-2b0cf0a1e001",
		Target:   req.Target,
		Ports:    req.Ports.String(),
		Mode:     req.Mode(),
		Open:     []int{},
		Outcomes: f.outcomes(req),
	}
	for _, o := range report.Outcomes {
		report.Summary.Add(o.Status)
		if o.Status == probe.StatusOpen {
			report.Open = append(report.Open, o.Port)
		}
	}
	return report, nil
}

func (f *fakeProber) Stream(ctx context.Context, req probe.Request) (*probe.OutcomeStream, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	outcomes := f.outcomes(req)
	stream := probe.NewOutcomeStream(0)
	go func() {
		if f.block {
			<-ctx.Done()
			stream.Close(errors.NewCancelled(req.Target, 0, len(outcomes), ctx.Err()))
			return
		}
		// Deliver in reverse to prove the final message sorts open ports.
		for i := len(outcomes) - 1; i >= 0; i-- {
			if !stream.Send(ctx, outcomes[i]) {
				stream.Close(errors.NewCancelled(req.Target, len(outcomes)-1-i, len(outcomes), ctx.Err()))
				return
			}
		}
		stream.Close(f.streamErr)
	}()
	return stream, nil
}

type fakeStore struct {
	mu      sync.Mutex
	reports map[string]*probe.Report
	saveErr error
	listErr error
	limit   int
	offset  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: make(map[string]*probe.Report)}
}

func (s *fakeStore) Save(_ context.Context, r *probe.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.reports[r.ID] = r
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*probe.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, errors.ErrNotFound("get report")
	}
	return r, nil
}

func (s *fakeStore) List(_ context.Context, limit, offset int) ([]*probe.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit, s.offset = limit, offset
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*probe.Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return errors.ErrNotFound("delete report")
	}
	delete(s.reports, id)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func probeRouter(h *ProbeHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/probes", h.CreateProbe).Methods(http.MethodPost)
	router.HandleFunc("/probes", h.ListProbes).Methods(http.MethodGet)
	router.HandleFunc("/probes/{id}", h.GetProbe).Methods(http.MethodGet)
	router.HandleFunc("/probes/{id}", h.DeleteProbe).Methods(http.MethodDelete)
	return router
}

func postProbe(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/probes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateProbe(t *testing.T) {
	prober := &fakeProber{results: map[int]probe.Status{22: probe.StatusOpen, 80: probe.StatusOpen, 81: probe.StatusTimedOut}}
	store := newFakeStore()
	router := probeRouter(NewProbeHandler(prober, store, probe.NewLimiter(2), testLogger()))

	t.Run("port list without diagnostics", func(t *testing.T) {
		w := postProbe(t, router, `{"target":"example.com","ports":"22,80,81","concurrency":10,"timeout_ms":250}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var report probe.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, []int{22, 80}, report.Open)
		assert.Empty(t, report.Outcomes)
		assert.Equal(t, probe.Summary{Open: 2, TimedOut: 1}, report.Summary)

		got := prober.lastRequest()
		assert.Equal(t, "example.com", got.Target)
		assert.Equal(t, 10, got.Concurrency)
		assert.Equal(t, 250*time.Millisecond, got.Timeout)
		assert.Equal(t, []int{22, 80, 81}, got.Ports.Expand())
	})

	t.Run("range with diagnostics", func(t *testing.T) {
		w := postProbe(t, router, `{"target":"10.0.0.1","start":20,"end":23,"diagnostics":true}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var report probe.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, []int{22}, report.Open)
		require.Len(t, report.Outcomes, 4)
		assert.Equal(t, probe.StatusClosed, report.Outcomes[0].Status)
		assert.True(t, prober.lastRequest().Ports.IsRange())
	})

	t.Run("reports are saved with outcomes", func(t *testing.T) {
		saved, err := store.Get(context.Background(), "6f1d3c0e-1b7a-4a57-9d51-2b0cf0a1e001")
		require.NoError(t, err)
		assert.NotEmpty(t, saved.Outcomes)
	})
}

func TestCreateProbe_ValidationErrors(t *testing.T) {
	prober := &fakeProber{}
	router := probeRouter(NewProbeHandler(prober, nil, nil, testLogger()))

	tests := []struct {
		name     string
		body     string
		wantCode errors.ErrorCode
	}{
		{"invalid json", `{"target":`, errors.CodeValidation},
		{"unknown field", `{"target":"a.com","ports":"80","mode":"syn"}`, errors.CodeValidation},
		{"missing target", `{"ports":"80"}`, errors.CodeValidation},
		{"no ports", `{"target":"a.com"}`, errors.CodePortSpecInvalid},
		{"ports and range", `{"target":"a.com","ports":"80","start":1,"end":2}`, errors.CodePortSpecInvalid},
		{"inverted range", `{"target":"a.com","start":100,"end":10}`, errors.CodePortSpecInvalid},
		{"bad port list", `{"target":"a.com","ports":"80,http"}`, errors.CodePortSpecInvalid},
		{"port out of range", `{"target":"a.com","ports":"70000"}`, errors.CodePortSpecInvalid},
		{"concurrency too high", `{"target":"a.com","ports":"80","concurrency":20000}`, errors.CodeValidation},
		{"negative timeout", `{"target":"a.com","ports":"80","timeout_ms":-5}`, errors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postProbe(t, router, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
	assert.Empty(t, prober.got, "invalid requests never reach the engine")
}

func TestCreateProbe_EngineValidationError(t *testing.T) {
	prober := &fakeProber{err: errors.NewInvalidTarget("bad host", "not a hostname or IP address")}
	router := probeRouter(NewProbeHandler(prober, nil, nil, testLogger()))

	w := postProbe(t, router, `{"target":"bad host","ports":"80"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.CodeTargetInvalid, decodeError(t, w).Code)
}

func TestCreateProbe_ClientCancel(t *testing.T) {
	prober := &fakeProber{block: true}
	store := newFakeStore()
	handler := NewProbeHandler(prober, store, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/probes",
		strings.NewReader(`{"target":"example.com","ports":"1-100"}`)).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.CreateProbe(w, req)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errors.CodeCanceled, decodeError(t, w).Code)
	assert.Zero(t, store.count(), "cancelled scans are not stored")
}

func TestCreateProbe_LimiterClosed(t *testing.T) {
	limiter := probe.NewLimiter(1)
	require.NoError(t, limiter.Close())
	router := probeRouter(NewProbeHandler(&fakeProber{}, nil, limiter, testLogger()))

	w := postProbe(t, router, `{"target":"example.com","ports":"80"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateProbe_LimiterReleased(t *testing.T) {
	limiter := probe.NewLimiter(1)
	router := probeRouter(NewProbeHandler(&fakeProber{}, nil, limiter, testLogger()))

	for i := 0; i < 3; i++ {
		w := postProbe(t, router, `{"target":"example.com","ports":"80"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 0, limiter.Active())
}

func TestCreateProbe_SaveFailureStillReturnsReport(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.NewStoreError(errors.CodeDatabaseQuery, "Database operation failed")
	router := probeRouter(NewProbeHandler(&fakeProber{}, store, nil, testLogger()))

	w := postProbe(t, router, `{"target":"example.com","ports":"80"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStoredReportEndpoints_NoStore(t *testing.T) {
	router := probeRouter(NewProbeHandler(&fakeProber{}, nil, nil, testLogger()))

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/probes"},
		{http.MethodGet, "/probes/abc"},
		{http.MethodDelete, "/probes/abc"},
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, errors.CodeServiceUnavailable, decodeError(t, w).Code)
	}
}

func TestStoredReportEndpoints(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Save(context.Background(), &probe.Report{
		ID:     "a1",
		Target: "example.com",
		Open:   []int{443},
		Outcomes: []probe.Outcome{
			{Port: 443, Status: probe.StatusOpen},
		},
	}))
	router := probeRouter(NewProbeHandler(&fakeProber{}, store, nil, testLogger()))

	t.Run("list with pagination", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probes?page=3&page_size=10", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp ReportListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Data, 1)
		assert.Equal(t, 10, store.limit)
		assert.Equal(t, 20, store.offset)
		assert.Equal(t, 3, resp.Pagination.Page)
	})

	t.Run("list with bad page", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probes?page=two", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probes/a1", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var report probe.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, []int{443}, report.Open)
		assert.Len(t, report.Outcomes, 1)
	})

	t.Run("get missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probes/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, errors.CodeNotFound, decodeError(t, w).Code)
	})

	t.Run("delete", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/probes/a1", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/probes/a1", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list failure", func(t *testing.T) {
		store.listErr = errors.WrapStoreError(errors.CodeDatabaseQuery, "Database operation failed", "list reports",
			stderrors.New("relation does not exist"))
		defer func() { store.listErr = nil }()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probes", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "relation does not exist")
	})
}

func TestRequestPorts(t *testing.T) {
	spec, err := requestPorts("common", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ports.Common, spec.Expand())

	spec, err = requestPorts("", 1, 1024)
	require.NoError(t, err)
	assert.Equal(t, 1024, spec.Len())
}
