package stats

import (
	"context"
	"time"

	"faucet/internal/config"
	faucetErrors "faucet/internal/errors"
	"faucet/internal/retry"
	"faucet/internal/store"
	"faucet/pkg/models"

	"github.com/sirupsen/logrus"
)

// LedgerCounter 链上统计
type LedgerCounter interface {
	Count(ctx context.Context) (*models.Stats, error)
}

var errLedgerUnavailable = faucetErrors.NewFaucetError(
	faucetErrors.ErrorTypeUpstream,
	faucetErrors.SeverityMedium,
	"LEDGER_UNAVAILABLE",
	"未配置链上统计",
)

type strategy struct {
	name string
	run  func(ctx context.Context) (*models.Stats, error)
}

// Aggregator 领取统计，按配置的来源依次尝试
type Aggregator struct {
	store   store.ClaimStore
	ledger  LedgerCounter
	source  string
	timeout time.Duration
	logger  *logrus.Logger

	now func() time.Time
}

// NewAggregator 创建统计器，ledger为nil时只使用存储统计
func NewAggregator(claimStore store.ClaimStore, ledger LedgerCounter, cfg *config.StatsConfig, logger *logrus.Logger) *Aggregator {
	source := config.StatsSourceAuto
	timeout := retry.DefaultAttemptTimeout
	if cfg != nil {
		if cfg.Source != "" {
			source = cfg.Source
		}
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
	}

	return &Aggregator{
		store:   claimStore,
		ledger:  ledger,
		source:  source,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// GetStats 返回领取统计，所有来源都失败时返回 source=error 的零值，不返回错误
func (a *Aggregator) GetStats(ctx context.Context) *models.Stats {
	for _, s := range a.strategies() {
		result, err := retry.Attempt(ctx, a.timeout, (*models.Stats)(nil), s.run)
		if err == nil && result != nil {
			return result
		}
		a.logger.WithError(err).WithField("strategy", s.name).Warn("统计来源不可用，尝试下一个")
	}

	a.logger.Error("所有统计来源均不可用")
	return models.ErrorStats()
}

func (a *Aggregator) strategies() []strategy {
	fromStore := strategy{name: models.StatsSourceDatabase, run: a.fromStore}
	fromLedger := strategy{name: models.StatsSourceBlockchain, run: a.fromLedger}

	switch a.source {
	case config.StatsSourceDatabase:
		return []strategy{fromStore}
	case config.StatsSourceBlockchain:
		return []strategy{fromLedger, fromStore}
	default:
		if a.ledger == nil {
			return []strategy{fromStore}
		}
		return []strategy{fromLedger, fromStore}
	}
}

func (a *Aggregator) fromStore(ctx context.Context) (*models.Stats, error) {
	total, err := a.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := a.store.CountSince(ctx, a.now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	return &models.Stats{
		TotalClaims:   total,
		ClaimsLast24h: recent,
		Source:        models.StatsSourceDatabase,
	}, nil
}

func (a *Aggregator) fromLedger(ctx context.Context) (*models.Stats, error) {
	if a.ledger == nil {
		return nil, errLedgerUnavailable
	}
	return a.ledger.Count(ctx)
}
