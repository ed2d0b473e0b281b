package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"faucet/pkg/models"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultBoltPath = "./data/claims.db"

	// 存储桶名称
	ClaimsBucket  = "claims"   // seq -> ClaimRecord(JSON)
	TxIndexBucket = "tx_index" // txHash -> seq
)

// BoltStore 基于BoltDB的文件存储，只保留最近retention条记录
type BoltStore struct {
	db        *bolt.DB
	logger    *logrus.Logger
	dbPath    string
	retention int
	clock     *monotonicClock
}

// NewBoltStore 创建文件存储
func NewBoltStore(dbPath string, retention int, now Clock, logger *logrus.Logger) (*BoltStore, error) {
	if dbPath == "" {
		dbPath = DefaultBoltPath
	}
	if retention <= 0 {
		retention = 100
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开领取记录数据库失败: %w", err)
	}

	s := &BoltStore{
		db:        db,
		logger:    logger,
		dbPath:    dbPath,
		retention: retention,
		clock:     newMonotonicClock(now),
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("领取记录文件存储已初始化，数据库路径: %s", dbPath)
	return s, nil
}

// initDB 创建存储桶并恢复最新时间戳
func (s *BoltStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		claims, err := tx.CreateBucketIfNotExists([]byte(ClaimsBucket))
		if err != nil {
			return fmt.Errorf("创建领取记录存储桶失败: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(TxIndexBucket)); err != nil {
			return fmt.Errorf("创建交易索引存储桶失败: %w", err)
		}

		if _, v := claims.Cursor().Last(); v != nil {
			var last models.ClaimRecord
			if err := json.Unmarshal(v, &last); err == nil {
				s.clock.observe(last.Timestamp)
			}
		}
		return nil
	})
}

func (s *BoltStore) Name() string { return "bolt" }

func (s *BoltStore) Insert(ctx context.Context, record *models.ClaimRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	record.Normalize()

	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		claims := tx.Bucket([]byte(ClaimsBucket))
		index := tx.Bucket([]byte(TxIndexBucket))

		if index.Get([]byte(record.TxHash)) != nil {
			return nil
		}

		seq, err := claims.NextSequence()
		if err != nil {
			return fmt.Errorf("分配序号失败: %w", err)
		}

		record.Timestamp = s.clock.next()
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("序列化领取记录失败: %w", err)
		}

		key := seqKey(seq)
		if err := claims.Put(key, data); err != nil {
			return fmt.Errorf("保存领取记录失败: %w", err)
		}
		if err := index.Put([]byte(record.TxHash), key); err != nil {
			return fmt.Errorf("保存交易索引失败: %w", err)
		}
		inserted = true

		return s.prune(claims, index)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// prune 删除超出保留条数的最旧记录
func (s *BoltStore) prune(claims, index *bolt.Bucket) error {
	// 写事务中未提交的修改不会反映在Stats里，这里用游标计数
	total := 0
	c := claims.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		total++
	}
	overflow := total - s.retention
	if overflow <= 0 {
		return nil
	}

	var keys [][]byte
	var hashes [][]byte
	for k, v := c.First(); k != nil && len(keys) < overflow; k, v = c.Next() {
		var r models.ClaimRecord
		if err := json.Unmarshal(v, &r); err == nil {
			hashes = append(hashes, []byte(r.TxHash))
		}
		keys = append(keys, append([]byte(nil), k...))
	}

	for _, k := range keys {
		if err := claims.Delete(k); err != nil {
			return fmt.Errorf("清理领取记录失败: %w", err)
		}
	}
	for _, h := range hashes {
		if err := index.Delete(h); err != nil {
			return fmt.Errorf("清理交易索引失败: %w", err)
		}
	}
	return nil
}

// scanNewest 从最新记录开始倒序遍历，直到fn返回false或时间戳不晚于since
func (s *BoltStore) scanNewest(since time.Time, fn func(r *models.ClaimRecord) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(ClaimsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r models.ClaimRecord
			if err := json.Unmarshal(v, &r); err != nil {
				s.logger.Warnf("跳过无法解析的领取记录 %x: %v", k, err)
				continue
			}
			if !since.IsZero() && !r.Timestamp.After(since) {
				return nil
			}
			if !fn(&r) {
				return nil
			}
		}
		return nil
	})
}

func (s *BoltStore) LatestClaim(ctx context.Context, address string, since time.Time) (*models.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	address = normalizeAddress(address)

	var found *models.ClaimRecord
	err := s.scanNewest(since, func(r *models.ClaimRecord) bool {
		if r.Address == address {
			found = r
			return false
		}
		return true
	})
	return found, err
}

func (s *BoltStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = int64(tx.Bucket([]byte(ClaimsBucket)).Stats().KeyN)
		return nil
	})
	return n, err
}

func (s *BoltStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.scanNewest(since, func(r *models.ClaimRecord) bool {
		n++
		return true
	})
	return n, err
}

func (s *BoltStore) Recent(ctx context.Context, limit int, socialID string) ([]*models.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	result := make([]*models.ClaimRecord, 0, limit)
	err := s.scanNewest(time.Time{}, func(r *models.ClaimRecord) bool {
		if socialID == "" || r.SocialID() == socialID {
			result = append(result, r)
		}
		return len(result) < limit
	})
	return result, err
}

// GetDBPath 获取数据库路径
func (s *BoltStore) GetDBPath() string {
	return s.dbPath
}

// Close 关闭文件存储
func (s *BoltStore) Close() error {
	if s.db != nil {
		s.logger.Info("关闭领取记录文件存储")
		return s.db.Close()
	}
	return nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
