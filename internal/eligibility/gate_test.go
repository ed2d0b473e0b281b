package eligibility

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"faucet/internal/config"
	faucetErrors "faucet/internal/errors"
	"faucet/internal/reputation"
	"faucet/internal/store"
	"faucet/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x1111111111111111111111111111111111111111"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
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

// failingStore 所有查询都失败的存储
type failingStore struct {
	store.ClaimStore
}

func (failingStore) LatestClaim(ctx context.Context, address string, since time.Time) (*models.ClaimRecord, error) {
	return nil, errors.New("connection refused")
}

type gateFixture struct {
	gate  *Gate
	store *store.MemoryStore
	now   time.Time
}

func (f *gateFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, faucetCfg *config.FaucetConfig, checker reputation.Checker) *gateFixture {
	f := &gateFixture{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.store = store.NewMemoryStore(100, func() time.Time { return f.now })
	if faucetCfg == nil {
		faucetCfg = config.GetDefaultConfig().Faucet
	}
	f.gate = NewGate(f.store, checker, faucetCfg, &config.ReputationConfig{MinScore: 0.5, Timeout: 100 * time.Millisecond}, testLogger())
	f.gate.now = func() time.Time { return f.now }
	return f
}

func (f *gateFixture) claim(t *testing.T, address, txHash string) {
	_, err := f.store.Insert(context.Background(), &models.ClaimRecord{Address: address, TxHash: txHash})
	require.NoError(t, err)
}

func TestGate_NoRecordIsEligible(t *testing.T) {
	f := newFixture(t, nil, nil)

	decision, err := f.gate.Evaluate(context.Background(), &Request{Address: testAddress})
	require.NoError(t, err)
	assert.True(t, decision.Eligible)
	assert.Equal(t, models.StatusEligible, decision.Status)
	assert.Nil(t, decision.RetryAfter)
}

func TestGate_CooldownScenario(t *testing.T) {
	f := newFixture(t, nil, nil)
	claimedAt := f.now
	f.claim(t, testAddress, "0x"+fmtHash(1))

	f.advance(time.Hour)
	decision, err := f.gate.Evaluate(context.Background(), &Request{Address: testAddress})
	require.NoError(t, err)
	assert.False(t, decision.Eligible)
	assert.Equal(t, models.StatusCooldown, decision.Status)
	assert.Contains(t, decision.ReasonMessage, "23")
	require.NotNil(t, decision.RetryAfter)
	assert.True(t, decision.RetryAfter.Equal(claimedAt.Add(24*time.Hour)))

	f.advance(23*time.Hour + time.Second)
	decision, err = f.gate.Evaluate(context.Background(), &Request{Address: testAddress})
	require.NoError(t, err)
	assert.True(t, decision.Eligible)
}

func TestGate_CaseInsensitive(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.claim(t, "0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD", "0x"+fmtHash(2))

	f.advance(time.Minute)
	decision, err := f.gate.Evaluate(context.Background(), &Request{Address: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"})
	require.NoError(t, err)
	assert.False(t, decision.Eligible)
	assert.Equal(t, models.StatusCooldown, decision.Status)
}

func TestGate_InvalidAddress(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.gate.Evaluate(context.Background(), &Request{Address: "0x1234"})
	assert.ErrorIs(t, err, faucetErrors.ErrInvalidAddress)

	_, err = f.gate.Evaluate(context.Background(), &Request{Address: ""})
	assert.ErrorIs(t, err, faucetErrors.ErrMissingAddress)
}

func TestGate_StoreFailureFailsOpen(t *testing.T) {
	gate := NewGate(failingStore{}, nil, config.GetDefaultConfig().Faucet, nil, testLogger())

	decision, err := gate.Evaluate(context.Background(), &Request{Address: testAddress})
	require.NoError(t, err)
	assert.True(t, decision.Eligible)
	assert.Equal(t, models.StatusUnverified, decision.Status)
	assert.True(t, decision.Degraded)
}

func TestGate_StrictPlatformMode(t *testing.T) {
	cfg := config.GetDefaultConfig().Faucet
	cfg.StrictPlatformMode = true
	f := newFixture(t, cfg, nil)

	decision, err := f.gate.Evaluate(context.Background(), &Request{Address: testAddress, UserAgent: "Mozilla/5.0"})
	require.NoError(t, err)
	assert.False(t, decision.Eligible)
	assert.Equal(t, models.StatusPlatformRequired, decision.Status)

	decision, err = f.gate.Evaluate(context.Background(), &Request{Address: testAddress, Referer: "https://warpcast.com/~/frames"})
	require.NoError(t, err)
	assert.True(t, decision.Eligible)

	decision, err = f.gate.Evaluate(context.Background(), &Request{Address: testAddress, IsPlatform: true})
	require.NoError(t, err)
	assert.True(t, decision.Eligible)
}

func TestGate_ReputationChecks(t *testing.T) {
	cfg := config.GetDefaultConfig().Faucet
	cfg.RequireFollow = true
	cfg.RequireReputation = true

	tests := []struct {
		name     string
		checker  *stubChecker
		socialID string
		status   models.EligibilityStatus
		eligible bool
	}{
		{"未关注", &stubChecker{profile: &reputation.Profile{Score: 0.9}}, "3621", models.StatusFollowRequired, false},
		{"分数不足", &stubChecker{profile: &reputation.Profile{Score: 0.2, FollowsTarget: true}}, "3621", models.StatusLowReputation, false},
		{"满足要求", &stubChecker{profile: &reputation.Profile{Score: 0.9, FollowsTarget: true}}, "3621", models.StatusEligible, true},
		{"API错误放行", &stubChecker{err: errors.New("503 Service Unavailable")}, "3621", models.StatusUnverified, true},
		{"API超时放行", &stubChecker{delay: time.Second}, "3621", models.StatusUnverified, true},
		{"未提供社交身份时跳过", &stubChecker{profile: &reputation.Profile{}}, "", models.StatusEligible, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cfg, tt.checker)

			decision, err := f.gate.Evaluate(context.Background(), &Request{Address: testAddress, SocialID: tt.socialID})
			require.NoError(t, err)
			assert.Equal(t, tt.eligible, decision.Eligible)
			assert.Equal(t, tt.status, decision.Status)
		})
	}
}

func TestCooldownMessage(t *testing.T) {
	assert.Equal(t, "You can claim again in 23 hours", CooldownMessage(23*time.Hour))
	assert.Equal(t, "You can claim again in 23 hours", CooldownMessage(22*time.Hour+time.Minute))
	assert.Equal(t, "You can claim again in 1 hours", CooldownMessage(time.Second))
}

func TestIsPlatformRequest(t *testing.T) {
	markers := []string{"warpcast", "Farcaster"}

	assert.True(t, IsPlatformRequest(true, "", "", markers))
	assert.True(t, IsPlatformRequest(false, "", "FarcasterClient/1.0", markers))
	assert.True(t, IsPlatformRequest(false, "https://WARPCAST.com", "", markers))
	assert.False(t, IsPlatformRequest(false, "https://example.com", "curl/8.0", markers))
	assert.False(t, IsPlatformRequest(false, "https://example.com", "", nil))
}

func fmtHash(i int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 64)
	for j := range b {
		b[j] = '0'
	}
	b[63] = hex[i%16]
	return string(b)
}
