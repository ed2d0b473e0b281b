package eligibility

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"faucet/internal/config"
	"faucet/internal/reputation"
	"faucet/internal/retry"
	"faucet/internal/store"
	"faucet/internal/validation"
	"faucet/pkg/models"

	"github.com/sirupsen/logrus"
)

// 返回给用户的提示
const (
	MessagePlatformRequired = "Please open the faucet from the supported app to claim."
	MessageFollowRequired   = "Please follow our account to claim."
	MessageLowReputation    = "Your account does not meet the reputation requirement."
	MessageUnverified       = "We could not verify your eligibility right now. You may still try to claim."
)

// Request 资格检查请求
type Request struct {
	Address    string
	IsPlatform bool // 客户端声明来自指定平台
	Referer    string
	UserAgent  string
	SocialID   string
}

// Gate 领取资格检查
type Gate struct {
	store      store.ClaimStore
	reputation reputation.Checker
	faucet     *config.FaucetConfig
	minScore   float64
	timeout    time.Duration
	logger     *logrus.Logger

	now func() time.Time
}

// NewGate 创建资格检查器，checker可以为nil
func NewGate(claimStore store.ClaimStore, checker reputation.Checker, faucetCfg *config.FaucetConfig,
	reputationCfg *config.ReputationConfig, logger *logrus.Logger) *Gate {
	timeout := retry.DefaultAttemptTimeout
	minScore := 0.0
	if reputationCfg != nil {
		if reputationCfg.Timeout > 0 {
			timeout = reputationCfg.Timeout
		}
		minScore = reputationCfg.MinScore
	}

	return &Gate{
		store:      claimStore,
		reputation: checker,
		faucet:     faucetCfg,
		minScore:   minScore,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Evaluate 判断地址当前是否可以领取
//
// 只有地址格式错误会返回error。存储或声誉API不可用时放行，
// 并以 StatusUnverified 标记判定结果。
func (g *Gate) Evaluate(ctx context.Context, req *Request) (*models.EligibilityDecision, error) {
	address, err := validation.NormalizeAddress(req.Address)
	if err != nil {
		return nil, err
	}

	log := g.logger.WithFields(logrus.Fields{
		"component": "eligibility",
		"address":   address,
	})

	if g.faucet.StrictPlatformMode && !IsPlatformRequest(req.IsPlatform, req.Referer, req.UserAgent, g.faucet.PlatformMarkers) {
		log.Debug("请求不是来自指定平台")
		return models.Ineligible(models.StatusPlatformRequired, MessagePlatformRequired), nil
	}

	degraded := false
	now := g.now()

	if decision, err := g.checkCooldown(ctx, address, now); err != nil {
		log.WithError(err).Warn("查询领取记录失败，跳过冷却检查")
		degraded = true
	} else if decision != nil {
		return decision, nil
	}

	if g.requiresSocialCheck() && req.SocialID != "" {
		if decision, err := g.checkReputation(ctx, req.SocialID); err != nil {
			log.WithError(err).WithField("social_id", req.SocialID).Warn("声誉查询失败，按可领取处理")
			degraded = true
		} else if decision != nil {
			return decision, nil
		}
	}

	if degraded {
		return models.Unverified(MessageUnverified), nil
	}
	return models.Eligible(), nil
}

// checkCooldown 冷却期内返回不可领取的判定
func (g *Gate) checkCooldown(ctx context.Context, address string, now time.Time) (*models.EligibilityDecision, error) {
	cooldown := g.faucet.Cooldown()
	since := now.Add(-cooldown)

	last, err := retry.Attempt(ctx, g.timeout, (*models.ClaimRecord)(nil),
		func(ctx context.Context) (*models.ClaimRecord, error) {
			return g.store.LatestClaim(ctx, address, since)
		})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, nil
	}

	retryAt := last.Timestamp.Add(cooldown)
	decision := models.Ineligible(models.StatusCooldown, CooldownMessage(retryAt.Sub(now)))
	decision.RetryAfter = &retryAt
	return decision, nil
}

func (g *Gate) requiresSocialCheck() bool {
	return g.reputation != nil && (g.faucet.RequireFollow || g.faucet.RequireReputation)
}

func (g *Gate) checkReputation(ctx context.Context, socialID string) (*models.EligibilityDecision, error) {
	profile, err := retry.Attempt(ctx, g.timeout, (*reputation.Profile)(nil),
		func(ctx context.Context) (*reputation.Profile, error) {
			return g.reputation.Lookup(ctx, socialID)
		})
	if err != nil {
		return nil, err
	}

	if g.faucet.RequireFollow && !profile.FollowsTarget {
		return models.Ineligible(models.StatusFollowRequired, MessageFollowRequired), nil
	}
	if g.faucet.RequireReputation && !profile.MeetsThreshold(g.minScore) {
		return models.Ineligible(models.StatusLowReputation, MessageLowReputation), nil
	}
	return nil, nil
}

// CooldownMessage 剩余冷却时间提示，小时数向上取整
func CooldownMessage(remaining time.Duration) string {
	hours := int(math.Ceil(remaining.Hours()))
	if hours < 1 {
		hours = 1
	}
	return fmt.Sprintf("You can claim again in %d hours", hours)
}

// IsPlatformRequest 客户端声明或请求头中包含平台标识时视为平台内请求
func IsPlatformRequest(asserted bool, referer, userAgent string, markers []string) bool {
	if asserted {
		return true
	}
	referer = strings.ToLower(referer)
	userAgent = strings.ToLower(userAgent)
	for _, marker := range markers {
		marker = strings.ToLower(strings.TrimSpace(marker))
		if marker == "" {
			continue
		}
		if strings.Contains(referer, marker) || strings.Contains(userAgent, marker) {
			return true
		}
	}
	return false
}
