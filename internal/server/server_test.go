package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrollverse/sentinel/internal/config"
	"github.com/scrollverse/sentinel/internal/orchestrator"
	"github.com/scrollverse/sentinel/internal/profile"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing (memory mode)
func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		LogLevel:            "error",
		DenyThreshold:       75,
		AlertThreshold:      60,
		AmountWeight:        0.40,
		VelocityWeight:      0.35,
		ProfileWeight:       0.25,
		VelocityWindow:      time.Minute,
		VelocityCap:         15,
		DecayWindow:         30 * 24 * time.Hour,
		DecayHalfLife:       7 * 24 * time.Hour,
		BandLow:             25,
		BandMedium:          50,
		BandHigh:            75,
		DownweightRatio:     0.25,
		FraudFactorScore:    40,
		PolicyDefaultAction: "deny",
		VolumetricThreshold: 1000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	require.NoError(t, err, "failed to create server")
	t.Cleanup(func() {
		if s.publisher != nil {
			s.publisher.Close()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
	})
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Server hasn't called Run() so ready is false
	w := doJSON(t, s, "GET", "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/transactions/validate",
		"GET:/v1/transactions/:id/decision",
		"GET:/v1/users/:id/risk-profile",
		"GET:/v1/fraud/alerts",
		"POST:/v1/fraud/alerts/:id/investigate",
		"POST:/v1/fraud/alerts/:id/resolve",
		"GET:/v1/fraud/analytics",
		"POST:/v1/threats",
		"GET:/v1/threats/summary",
		"POST:/v1/access/validate",
		"POST:/v1/policies",
		"GET:/v1/registry/entries",
		"GET:/v1/security/status",
		"GET:/v1/security/dashboard",
		"POST:/v1/security/scan",
		"POST:/v1/security/incidents",
		"GET:/v1/security/audit-report",
	}

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		assert.True(t, routeSet[e], "route %s not registered", e)
	}
}

// ---------------------------------------------------------------------------
// End-to-end flows through the HTTP surface
// ---------------------------------------------------------------------------

func TestTransactionValidationFlow(t *testing.T) {
	s := newTestServer(t)

	body := `{
		"id": "tx-http-1",
		"fromUser": "student-1",
		"toUser": "tutor-1",
		"amount": 25.00,
		"type": "transfer",
		"metadata": {"ip": "198.51.100.7"}
	}`
	w := doJSON(t, s, "POST", "/v1/transactions/validate", body)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var decision map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, true, decision["allowed"])
	assert.Equal(t, "tx-http-1", decision["transactionId"])

	// The decision is retrievable afterwards
	w = doJSON(t, s, "GET", "/v1/transactions/tx-http-1/decision", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, "GET", "/v1/transactions/tx-missing/decision", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegistryBlocksTransaction(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/registry/entries",
		`{"identifier": "203.0.113.9", "kind": "ip", "source": "abuse-report"}`)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	body := `{
		"id": "tx-http-2",
		"fromUser": "student-2",
		"toUser": "tutor-1",
		"amount": 10.00,
		"type": "purchase",
		"metadata": {"ip": "203.0.113.9"}
	}`
	w = doJSON(t, s, "POST", "/v1/transactions/validate", body)
	require.Equal(t, http.StatusOK, w.Code)

	var decision map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, false, decision["allowed"])
	assert.Equal(t, "suspicious_source", decision["reason"])
}

func TestPolicyFlow(t *testing.T) {
	s := newTestServer(t)

	policyBody := `{
		"name": "tutor dashboard access",
		"resource": "dashboard/*",
		"enabled": true,
		"rules": [
			{
				"description": "tutors may read",
				"priority": 10,
				"action": "allow",
				"condition": {"field": "role", "op": "eq", "value": "tutor"}
			}
		]
	}`
	w := doJSON(t, s, "POST", "/v1/policies", policyBody)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	w = doJSON(t, s, "POST", "/v1/access/validate", `{
		"userId": "tutor-9",
		"resource": "dashboard/earnings",
		"action": "read",
		"context": {"role": "tutor"}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var decision map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, true, decision["allowed"])

	// No matching rule falls through to the default action (deny)
	w = doJSON(t, s, "POST", "/v1/access/validate", `{
		"userId": "student-9",
		"resource": "dashboard/earnings",
		"action": "read",
		"context": {"role": "student"}
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, false, decision["allowed"])
}

func TestSecurityStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/security/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["posture"])
}

func TestAuditReportLabelsUsers(t *testing.T) {
	dir := orchestrator.NewMemoryDirectory()
	dir.Put(&orchestrator.Identity{UserID: "student-7", DisplayName: "Grace Hopper", Role: "student"})

	s, err := New(testConfig(), WithDirectory(dir))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.publisher.Close()
		s.rateLimiter.Stop()
	})

	_, err = s.profiles.RecordFactor(context.Background(), "student-7", profile.Factor{
		Type: "confirmed_fraud", Weight: 90, Source: "alr_1",
	})
	require.NoError(t, err)

	w := doJSON(t, s, "GET", "/v1/security/audit-report?window=1h", "")
	require.Equal(t, http.StatusOK, w.Code)

	var report struct {
		Identities map[string]struct {
			DisplayName string `json:"displayName"`
		} `json:"identities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "Grace Hopper", report.Identities["student-7"].DisplayName)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
