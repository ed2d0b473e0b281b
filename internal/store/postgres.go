package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"faucet/internal/config"
	"faucet/pkg/models"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// 表结构，所有记录永久保留，按时间建立索引
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS faucet_claims (
		id                  BIGSERIAL PRIMARY KEY,
		address             TEXT NOT NULL,
		tx_hash             TEXT NOT NULL UNIQUE,
		social_id           TEXT,
		social_handle       TEXT,
		social_display_name TEXT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_faucet_claims_created_at ON faucet_claims (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_faucet_claims_address_created_at ON faucet_claims (address, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_faucet_claims_social_id ON faucet_claims (social_id)`,
}

const claimColumns = `address, tx_hash, social_id, social_handle, social_display_name, created_at`

// PostgresStore 基于PostgreSQL的存储
type PostgresStore struct {
	db           *sql.DB
	logger       *logrus.Logger
	queryTimeout time.Duration
	clock        *monotonicClock
}

// OpenPostgresStore 打开数据库连接池并测试连接
func OpenPostgresStore(ctx context.Context, cfg *config.StoreConfig, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", withConnectTimeout(cfg.DSN, cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 连接池上限，避免在无服务器环境中耗尽数据库连接
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("PostgreSQL领取记录存储已连接")

	return NewPostgresStore(db, cfg.QueryTimeout, nil, logger), nil
}

// NewPostgresStore 使用已有连接创建存储
func NewPostgresStore(db *sql.DB, queryTimeout time.Duration, now Clock, logger *logrus.Logger) *PostgresStore {
	if queryTimeout <= 0 {
		queryTimeout = 3 * time.Second
	}
	return &PostgresStore{
		db:           db,
		logger:       logger,
		queryTimeout: queryTimeout,
		clock:        newMonotonicClock(now),
	}
}

// withConnectTimeout 在连接串中补充connect_timeout参数
func withConnectTimeout(dsn string, timeout time.Duration) string {
	seconds := int(timeout.Seconds())
	if seconds <= 0 || strings.Contains(dsn, "connect_timeout") {
		return dsn
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("connect_timeout", fmt.Sprintf("%d", seconds))
		u.RawQuery = q.Encode()
		return u.String()
	}

	return fmt.Sprintf("%s connect_timeout=%d", strings.TrimSpace(dsn), seconds)
}

func (s *PostgresStore) Name() string { return "postgres" }

// Migrate 创建表和索引
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行数据库迁移失败: %w", err)
		}
	}
	s.logger.Info("领取记录表结构已就绪")
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, record *models.ClaimRecord) (bool, error) {
	record.Normalize()
	record.Timestamp = s.clock.next()

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var socialID, handle, displayName sql.NullString
	if identity := record.SocialIdentity; identity != nil {
		socialID = sql.NullString{String: identity.ID, Valid: true}
		handle = sql.NullString{String: identity.Handle, Valid: identity.Handle != ""}
		displayName = sql.NullString{String: identity.DisplayName, Valid: identity.DisplayName != ""}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO faucet_claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO NOTHING`,
		record.Address, record.TxHash, socialID, handle, displayName, record.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("写入领取记录失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) LatestClaim(ctx context.Context, address string, since time.Time) (*models.ClaimRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM faucet_claims
		WHERE address = $1 AND created_at > $2
		ORDER BY created_at DESC LIMIT 1`,
		normalizeAddress(address), since.UTC(),
	)

	record, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询最近领取记录失败: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM faucet_claims`).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计领取记录失败: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM faucet_claims WHERE created_at > $1`, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计领取记录失败: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int, socialID string) ([]*models.ClaimRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	limit = normalizeLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if socialID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+claimColumns+` FROM faucet_claims
			WHERE social_id = $1 ORDER BY created_at DESC LIMIT $2`,
			socialID, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+claimColumns+` FROM faucet_claims
			ORDER BY created_at DESC LIMIT $1`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("查询领取记录失败: %w", err)
	}
	defer rows.Close()

	result := make([]*models.ClaimRecord, 0, limit)
	for rows.Next() {
		record, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("解析领取记录失败: %w", err)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.logger.Info("关闭PostgreSQL连接池")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(row rowScanner) (*models.ClaimRecord, error) {
	var (
		record                        models.ClaimRecord
		socialID, handle, displayName sql.NullString
	)
	if err := row.Scan(&record.Address, &record.TxHash, &socialID, &handle, &displayName, &record.Timestamp); err != nil {
		return nil, err
	}
	if socialID.Valid && socialID.String != "" {
		record.SocialIdentity = &models.SocialIdentity{
			ID:          socialID.String,
			Handle:      handle.String,
			DisplayName: displayName.String,
		}
	}
	record.Timestamp = record.Timestamp.UTC()
	return &record, nil
}
