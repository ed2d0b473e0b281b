package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"faucet/internal/config"
	"faucet/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultRecentLimit Recent 未指定条数时返回的记录数
const DefaultRecentLimit = 20

// ClaimStore 领取记录存储
//
// 实现需要保证：
//   - 相同txHash重复写入是空操作（inserted=false），不返回错误
//   - 地址按小写存储
//   - 写入时由存储分配时间戳，且时间戳不会倒退
type ClaimStore interface {
	// Insert 写入领取记录，record.Timestamp 会被覆盖为写入时间
	Insert(ctx context.Context, record *models.ClaimRecord) (bool, error)

	// LatestClaim 返回地址在since之后（不含）的最近一条记录，不存在时返回nil
	LatestClaim(ctx context.Context, address string, since time.Time) (*models.ClaimRecord, error)

	// Count 记录总数
	Count(ctx context.Context) (int64, error)

	// CountSince since之后（不含）的记录数
	CountSince(ctx context.Context, since time.Time) (int64, error)

	// Recent 最近的记录，按时间倒序；socialID非空时只返回该社交身份的记录
	Recent(ctx context.Context, limit int, socialID string) ([]*models.ClaimRecord, error)

	// Name 存储名称，用于日志
	Name() string

	Close() error
}

// Clock 时间来源
type Clock func() time.Time

// monotonicClock 保证分配出去的时间戳不倒退
type monotonicClock struct {
	mu   sync.Mutex
	now  Clock
	last time.Time
}

func newMonotonicClock(now Clock) *monotonicClock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

// next 返回不早于上一次分配值的当前时间
func (c *monotonicClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC()
	if ts.Before(c.last) {
		ts = c.last
	}
	c.last = ts
	return ts
}

// observe 记录已有的最大时间戳（从持久化存储恢复时使用）
func (c *monotonicClock) observe(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.last) {
		c.last = ts
	}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}

// copyRecord 返回记录副本，避免调用方修改存储内部数据
func copyRecord(r *models.ClaimRecord) *models.ClaimRecord {
	cp := *r
	if r.SocialIdentity != nil {
		identity := *r.SocialIdentity
		cp.SocialIdentity = &identity
	}
	return &cp
}

// New 按配置创建存储
func New(ctx context.Context, cfg *config.StoreConfig, logger *logrus.Logger) (ClaimStore, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory, "":
		return NewMemoryStore(cfg.Retention, nil), nil
	case config.StoreDriverBolt:
		return NewBoltStore(cfg.BoltPath, cfg.Retention, nil, logger)
	case config.StoreDriverPostgres:
		s, err := OpenPostgresStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}
