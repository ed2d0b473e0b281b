package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"faucet/internal/config"
	"faucet/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DripCounter 通过合约的领取事件统计领取次数
type DripCounter struct {
	reader      Reader
	contract    common.Address
	topic       common.Hash
	window      uint64
	concurrency int
	timestamps  *lru.Cache // 区块号 -> 区块时间戳
	logger      *logrus.Logger

	now func() time.Time
}

// NewDripCounter 创建链上领取统计
func NewDripCounter(reader Reader, contract string, cfg *config.ChainConfig, logger *logrus.Logger) (*DripCounter, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("无效的合约地址: %q", contract)
	}

	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("创建区块时间缓存失败: %w", err)
	}

	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	return &DripCounter{
		reader:      reader,
		contract:    common.HexToAddress(contract),
		topic:       EventTopic(cfg.DripEvent),
		window:      cfg.BlockWindow,
		concurrency: concurrency,
		timestamps:  cache,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// EventTopic 事件签名对应的topic0，已经是32字节哈希时直接使用
func EventTopic(event string) common.Hash {
	event = strings.TrimSpace(event)
	if strings.HasPrefix(event, "0x") && len(event) == 66 {
		return common.HexToHash(event)
	}
	return crypto.Keccak256Hash([]byte(event))
}

// Count 统计最近window个区块内的领取事件
//
// TotalClaims 是查询区块范围内的事件数，ClaimsLast24h 是其中区块时间在24小时内的事件数。
func (d *DripCounter) Count(ctx context.Context) (*models.Stats, error) {
	latest, err := d.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块失败: %w", err)
	}

	from := uint64(0)
	if latest > d.window {
		from = latest - d.window
	}

	logs, err := d.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{d.contract},
		Topics:    [][]common.Hash{{d.topic}},
	})
	if err != nil {
		return nil, fmt.Errorf("查询领取事件失败: %w", err)
	}

	// 按区块分组，每个区块只取一次时间戳
	perBlock := make(map[uint64]int64)
	var total int64
	for _, l := range logs {
		if l.Removed {
			continue
		}
		perBlock[l.BlockNumber]++
		total++
	}

	timestamps, err := d.blockTimestamps(ctx, perBlock)
	if err != nil {
		return nil, err
	}

	cutoff := uint64(d.now().Add(-24 * time.Hour).Unix())
	var recent int64
	for number, count := range perBlock {
		if timestamps[number] > cutoff {
			recent += count
		}
	}

	d.logger.WithFields(logrus.Fields{
		"from_block": from,
		"to_block":   latest,
		"total":      total,
		"last_24h":   recent,
		"blocks":     len(perBlock),
	}).Debug("链上领取统计完成")

	return &models.Stats{
		TotalClaims:   total,
		ClaimsLast24h: recent,
		Source:        models.StatsSourceBlockchain,
		FromBlock:     from,
		ToBlock:       latest,
	}, nil
}

// blockTimestamps 并发获取区块时间戳，优先使用缓存
func (d *DripCounter) blockTimestamps(ctx context.Context, blocks map[uint64]int64) (map[uint64]uint64, error) {
	result := make(map[uint64]uint64, len(blocks))
	type fetched struct {
		number uint64
		ts     uint64
	}
	var pending []uint64
	for number := range blocks {
		if ts, ok := d.timestamps.Get(number); ok {
			result[number] = ts.(uint64)
			continue
		}
		pending = append(pending, number)
	}
	if len(pending) == 0 {
		return result, nil
	}

	out := make([]fetched, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, number := range pending {
		i, number := i, number
		g.Go(func() error {
			header, err := d.reader.HeaderByNumber(gctx, new(big.Int).SetUint64(number))
			if err != nil {
				return fmt.Errorf("获取区块 %d 失败: %w", number, err)
			}
			out[i] = fetched{number: number, ts: header.Time}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, f := range out {
		result[f.number] = f.ts
		d.timestamps.Add(f.number, f.ts)
	}

	d.logger.Debugf("获取了 %d 个区块时间戳，缓存命中 %d 个", len(pending), len(result)-len(pending))
	return result, nil
}
