package claims

import (
	"context"
	"time"

	"faucet/internal/logging"
	"faucet/internal/publish"
	"faucet/internal/retry"
	"faucet/internal/store"
	"faucet/internal/validation"
	"faucet/pkg/models"

	"github.com/sirupsen/logrus"
)

// MaxRecentLimit 最近记录查询的条数上限
const MaxRecentLimit = 100

// Recorder 领取记录器
type Recorder struct {
	store     store.ClaimStore
	publisher publish.Publisher
	logger    *logrus.Logger
	timeout   time.Duration
}

// NewRecorder 创建领取记录器，publisher为nil时不发布事件
func NewRecorder(claimStore store.ClaimStore, publisher publish.Publisher, logger *logrus.Logger) *Recorder {
	if publisher == nil {
		publisher = publish.NoopPublisher{}
	}
	return &Recorder{
		store:     claimStore,
		publisher: publisher,
		logger:    logger,
		timeout:   retry.DefaultAttemptTimeout,
	}
}

// Record 记录一次成功的链上领取
//
// 只返回参数校验错误。链上交易已经成功，存储或消息发布失败只记录日志。
func (r *Recorder) Record(ctx context.Context, record *models.ClaimRecord) error {
	if err := validation.ValidateClaim(record); err != nil {
		return err
	}

	log := logging.ClaimLogger(r.logger, record.Address, record.TxHash)

	inserted, err := retry.Attempt(ctx, r.timeout, false, func(ctx context.Context) (bool, error) {
		return r.store.Insert(ctx, record)
	})
	if err != nil {
		log.WithError(err).WithField("store", r.store.Name()).Error("保存领取记录失败")
		return nil
	}
	if !inserted {
		log.Debug("领取记录已存在，忽略重复提交")
		return nil
	}

	log.WithField("social_id", record.SocialID()).Info("领取记录已保存")

	if _, err := retry.Attempt(ctx, r.timeout, struct{}{}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.publisher.PublishClaim(ctx, record)
	}); err != nil {
		log.WithError(err).Warn("发布领取事件失败")
	}

	return nil
}

// Recent 最近的领取记录，查询失败时返回空列表
func (r *Recorder) Recent(ctx context.Context, limit int, socialID string) []*models.ClaimRecord {
	if limit <= 0 {
		limit = store.DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	records, err := retry.Attempt(ctx, r.timeout, []*models.ClaimRecord{}, func(ctx context.Context) ([]*models.ClaimRecord, error) {
		return r.store.Recent(ctx, limit, socialID)
	})
	if err != nil {
		r.logger.WithError(err).WithField("component", "claim_recorder").Warn("查询最近领取记录失败")
		return []*models.ClaimRecord{}
	}
	return records
}
