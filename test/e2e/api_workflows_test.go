//go:build integration

// Package e2e runs complete workflows from API requests through the probe
// engine to PostgreSQL and back.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/anstrom/portprobe/internal/api"
	"github.com/anstrom/portprobe/internal/api/handlers"
	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/db"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/test/helpers"
)

const e2eAPIKey = "pp_e2etestkeye2etestkeye2etestkey"

// E2ETestSuite runs the API server against a real database.
type E2ETestSuite struct {
	suite.Suite

	database *db.DB
	limiter  *probe.Limiter
	server   *httptest.Server
	client   *http.Client
	ctx      context.Context
	cancel   context.CancelFunc
}

func (suite *E2ETestSuite) SetupSuite() {
	helpers.SkipIfShort(suite.T(), "end-to-end")

	suite.database = helpers.SetupTestDB(suite.T())
	suite.limiter = probe.NewLimiter(2)

	cfg := config.Default()
	cfg.API.APIKeys = []string{e2eAPIKey}
	cfg.API.RateLimit.Enabled = false

	engine := probe.New(probe.WithDefaults(50, 500*time.Millisecond))
	server, err := api.New(cfg, engine,
		api.WithStore(db.NewReportRepository(suite.database)),
		api.WithDatabase(suite.database),
		api.WithLimiter(suite.limiter))
	require.NoError(suite.T(), err)

	suite.server = httptest.NewServer(server.Handler())
	suite.client = &http.Client{Timeout: 30 * time.Second}
}

func (suite *E2ETestSuite) TearDownSuite() {
	if suite.server != nil {
		suite.server.Close()
	}
	if suite.limiter != nil {
		_ = suite.limiter.Close()
	}
}

func (suite *E2ETestSuite) SetupTest() {
	suite.ctx, suite.cancel = helpers.TestContext(0)
	require.NoError(suite.T(), helpers.CleanupReports(suite.ctx, suite.database))
}

func (suite *E2ETestSuite) TearDownTest() {
	suite.cancel()
}

func (suite *E2ETestSuite) makeAPIRequest(method, endpoint string, body interface{}) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(suite.ctx, method, suite.server.URL+"/api/v1"+endpoint, reader)
	require.NoError(suite.T(), err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", e2eAPIKey)

	resp, err := suite.client.Do(req)
	require.NoError(suite.T(), err)
	return resp
}

func (suite *E2ETestSuite) parseJSONResponse(resp *http.Response, v interface{}) {
	defer func() { _ = resp.Body.Close() }()
	require.NoError(suite.T(), json.NewDecoder(resp.Body).Decode(v))
}

func (suite *E2ETestSuite) TestProbeStoreAndRetrieve_E2E() {
	open := helpers.OpenPorts(suite.T(), 2)
	closed := helpers.ClosedPort(suite.T())

	// 1. Run a probe through the API
	resp := suite.makeAPIRequest(http.MethodPost, "/probes", handlers.ProbeRequest{
		Target: "127.0.0.1",
		Ports:  fmt.Sprintf("%d,%d,%d", open[0], open[1], closed),
	})
	require.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	var report probe.Report
	suite.parseJSONResponse(resp, &report)
	assert.ElementsMatch(suite.T(), open, report.Open)
	assert.Equal(suite.T(), probe.Summary{Open: 2, Closed: 1}, report.Summary)
	assert.Empty(suite.T(), report.Outcomes, "outcomes need diagnostics")

	// 2. The report was stored with every outcome
	var outcomes int
	require.NoError(suite.T(), suite.database.GetContext(suite.ctx, &outcomes,
		"SELECT COUNT(*) FROM probe_outcomes WHERE report_id = $1", report.ID))
	assert.Equal(suite.T(), 3, outcomes)

	// 3. Retrieve it through the API
	resp = suite.makeAPIRequest(http.MethodGet, "/probes/"+report.ID, nil)
	require.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	var stored probe.Report
	suite.parseJSONResponse(resp, &stored)
	assert.Equal(suite.T(), report.ID, stored.ID)
	assert.Len(suite.T(), stored.Outcomes, 3)

	// 4. It shows up in the list
	resp = suite.makeAPIRequest(http.MethodGet, "/probes?page_size=10", nil)
	require.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	var list handlers.ReportListResponse
	suite.parseJSONResponse(resp, &list)
	require.Len(suite.T(), list.Data, 1)
	assert.Equal(suite.T(), report.ID, list.Data[0].ID)

	// 5. Delete it
	resp = suite.makeAPIRequest(http.MethodDelete, "/probes/"+report.ID, nil)
	_ = resp.Body.Close()
	assert.Equal(suite.T(), http.StatusNoContent, resp.StatusCode)

	resp = suite.makeAPIRequest(http.MethodGet, "/probes/"+report.ID, nil)
	_ = resp.Body.Close()
	assert.Equal(suite.T(), http.StatusNotFound, resp.StatusCode)
}

func (suite *E2ETestSuite) TestAPIAuthentication_E2E() {
	req, err := http.NewRequestWithContext(suite.ctx, http.MethodGet, suite.server.URL+"/api/v1/probes", nil)
	require.NoError(suite.T(), err)

	resp, err := suite.client.Do(req)
	require.NoError(suite.T(), err)
	_ = resp.Body.Close()
	assert.Equal(suite.T(), http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequestWithContext(suite.ctx, http.MethodGet, suite.server.URL+"/api/v1/health", nil)
	require.NoError(suite.T(), err)
	resp, err = suite.client.Do(req)
	require.NoError(suite.T(), err)
	_ = resp.Body.Close()
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode, "health needs no key")
}

func (suite *E2ETestSuite) TestAPIErrorHandling_E2E() {
	resp := suite.makeAPIRequest(http.MethodPost, "/probes", handlers.ProbeRequest{
		Target: "127.0.0.1",
		Ports:  "70000",
	})
	require.Equal(suite.T(), http.StatusBadRequest, resp.StatusCode)

	var errResp handlers.ErrorResponse
	suite.parseJSONResponse(resp, &errResp)
	assert.NotEmpty(suite.T(), errResp.Message)
	assert.NotEmpty(suite.T(), errResp.RequestID)

	var count int
	require.NoError(suite.T(), suite.database.GetContext(suite.ctx, &count, "SELECT COUNT(*) FROM probe_reports"))
	assert.Zero(suite.T(), count, "rejected probes are not stored")
}

func (suite *E2ETestSuite) TestHealthReportsDatabase_E2E() {
	resp := suite.makeAPIRequest(http.MethodGet, "/health", nil)
	require.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	var health handlers.HealthResponse
	suite.parseJSONResponse(resp, &health)
	assert.Equal(suite.T(), "healthy", health.Status)
}

func TestE2EWorkflows(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}
