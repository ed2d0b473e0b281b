package api

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

	"faucet/internal/claims"
	"faucet/internal/config"
	"faucet/internal/eligibility"
	"faucet/internal/reputation"
	"faucet/internal/signer"
	"faucet/internal/stats"
	"faucet/internal/store"
	"faucet/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey      = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testAddress  = "0x1111111111111111111111111111111111111111"
	testTxHash   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubChecker struct {
	profile *reputation.Profile
	err     error
	delay   time.Duration
}

func (s *stubChecker) Lookup(ctx context.Context, id string) (*reputation.Profile, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.profile, s.err
}

type testServer struct {
	server *Server
	store  *store.MemoryStore
	config *config.Config
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config), checker reputation.Checker) *testServer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.GetDefaultConfig()
	cfg.Signer.PrivateKey = testKey
	cfg.Signer.ContractAddress = testContract
	cfg.Signer.ChainID = 84532
	cfg.Reputation.Timeout = 50 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	memory := store.NewMemoryStore(cfg.Store.Retention, nil)
	deps := &Dependencies{
		Config:   cfg,
		Gate:     eligibility.NewGate(memory, checker, cfg.Faucet, cfg.Reputation, logger),
		Recorder: claims.NewRecorder(memory, nil, logger),
		Issuer:   signer.NewIssuer(cfg.Signer, logger),
		Stats:    stats.NewAggregator(memory, nil, cfg.Stats, logger),
		Logger:   logger,
	}
	if checker != nil {
		deps.Reputation = checker
	}

	return &testServer{server: NewServer(deps), store: memory, config: cfg}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	var payload map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), w.Body.String())
	}
	return w, payload
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	for _, path := range []string{"/health", "/api/health"} {
		w, payload := ts.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", payload["status"])
		assert.NotEmpty(t, payload["timestamp"])
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "trace-123", w.Header().Get("X-Request-ID"))
}

func TestClaimFlow(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	w, payload := ts.do(t, http.MethodPost, "/api/check-eligibility", `{"address":"`+testAddress+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, payload["eligible"])
	assert.Equal(t, "eligible", payload["status"])

	w, payload = ts.do(t, http.MethodPost, "/api/log-claim",
		`{"address":"`+strings.ToUpper(testAddress[2:])+`","txHash":"`+testTxHash+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid wallet address", payload["error"])

	w, payload = ts.do(t, http.MethodPost, "/api/log-claim",
		`{"address":"`+testAddress+`","txHash":"`+testTxHash+`","socialIdentity":{"id":3621,"handle":"alice"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, payload["success"])

	// 重复提交同一交易
	w, _ = ts.do(t, http.MethodPost, "/api/log-claim", `{"address":"`+testAddress+`","txHash":"`+testTxHash+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	count, err := ts.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	w, payload = ts.do(t, http.MethodPost, "/api/check-eligibility",
		`{"address":"0x1111111111111111111111111111111111111111"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, payload["eligible"])
	assert.Equal(t, "cooldown", payload["status"])
	assert.Equal(t, "You can claim again in 24 hours", payload["message"])
	assert.NotEmpty(t, payload["nextClaimTime"])

	w, payload = ts.do(t, http.MethodGet, "/api/claims?socialId=3621", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := payload["claims"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, testTxHash, list[0].(map[string]interface{})["txHash"])

	w, payload = ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), payload["totalClaims"])
	assert.Equal(t, float64(1), payload["claimsLast24h"])
	assert.Equal(t, models.StatsSourceDatabase, payload["source"])
}

func TestCheckEligibility_Validation(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	w, payload := ts.do(t, http.MethodPost, "/api/check-eligibility", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Address is required", payload["error"])

	w, _ = ts.do(t, http.MethodPost, "/api/check-eligibility", `{"address":"0xnothex"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/check-eligibility", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogClaim_Validation(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	w, payload := ts.do(t, http.MethodPost, "/api/log-claim", `{"address":"`+testAddress+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Transaction hash is required", payload["error"])

	w, _ = ts.do(t, http.MethodPost, "/api/log-claim", `{"address":"`+testAddress+`","txHash":"0x1234"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestSignature(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	w, payload := ts.do(t, http.MethodPost, "/api/request-signature", `{"address":"not-an-address"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid wallet address", payload["error"])

	w, _ = ts.do(t, http.MethodPost, "/api/request-signature", `{"address":"`+testAddress+`","network":"solana"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/request-signature", `{"address":"`+testAddress+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var grant models.AuthorizationGrant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	assert.Equal(t, testAddress, grant.Claimant)
	assert.Equal(t, int64(84532), grant.ChainID)

	recovered, err := signer.RecoverSigner(&grant)
	require.NoError(t, err)
	expected, err := ts.server.deps.Issuer.SignerAddress()
	require.NoError(t, err)
	assert.Equal(t, expected, recovered)
}

func TestRequestSignature_MissingKey(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.Signer.PrivateKey = "" }, nil)

	w, payload := ts.do(t, http.MethodPost, "/api/request-signature", `{"address":"`+testAddress+`"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Faucet is not configured correctly. Please try again later.", payload["error"])
}

func TestCheckFollow(t *testing.T) {
	ts := newTestServer(t, nil, &stubChecker{profile: &reputation.Profile{Score: 0.9, FollowsTarget: true}})

	w, payload := ts.do(t, http.MethodPost, "/api/check-follow", `{"id":3621}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, payload["isFollowing"])
	assert.Nil(t, payload["apiError"])

	w, _ = ts.do(t, http.MethodPost, "/api/check-follow", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckFollow_TimeoutFailsOpen(t *testing.T) {
	ts := newTestServer(t, nil, &stubChecker{delay: time.Second})

	start := time.Now()
	w, payload := ts.do(t, http.MethodPost, "/api/check-follow", `{"id":"3621"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, payload["isFollowing"])
	assert.Equal(t, true, payload["apiError"])
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCheckReputation(t *testing.T) {
	ts := newTestServer(t, nil, &stubChecker{profile: &reputation.Profile{Score: 0.3}})

	w, payload := ts.do(t, http.MethodPost, "/api/check-reputation", `{"id":"3621"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, payload["meetsThreshold"])
	assert.Equal(t, 0.3, payload["score"])

	unconfigured := newTestServer(t, nil, nil)
	w, payload = unconfigured.do(t, http.MethodPost, "/api/check-reputation", `{"id":"3621"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, payload["meetsThreshold"])
	assert.Equal(t, true, payload["apiError"])
}

func TestFaucetInfo(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Signer.Networks = []*config.NetworkConfig{{Name: "celo", ChainID: 44787, DeadlineWindow: 30 * time.Minute}}
	}, nil)

	w, payload := ts.do(t, http.MethodGet, "/api/faucet-info", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(24), payload["cooldownHours"])
	assert.NotEmpty(t, payload["signerAddress"])

	networks := payload["networks"].([]interface{})
	require.Len(t, networks, 2)
	assert.Equal(t, config.PrimaryNetwork, networks[0].(map[string]interface{})["name"])
	assert.Equal(t, "celo", networks[1].(map[string]interface{})["name"])
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/check-eligibility", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://faucet.example")
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSocialIDUnmarshal(t *testing.T) {
	var req socialCheckRequest
	require.NoError(t, json.Unmarshal([]byte(`{"id":3621}`), &req))
	assert.Equal(t, socialID("3621"), req.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":" 42 "}`), &req))
	assert.Equal(t, socialID("42"), req.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"id":{}}`), &req))
}
