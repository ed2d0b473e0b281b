package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"faucet/internal/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Reader 领取统计需要的链上读取接口，*ethclient.Client 和 *Client 都满足
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client 带重试的以太坊RPC客户端
type Client struct {
	eth     *ethclient.Client
	retrier *retry.Retrier
	logger  *logrus.Logger
	url     string
}

// Dial 连接节点并校验链ID
func Dial(ctx context.Context, url string, timeout time.Duration, logger *logrus.Logger) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("未配置RPC节点地址")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eth, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	// 测试连接
	chainID, err := eth.ChainID(dialCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("节点连接测试失败: %w", err)
	}

	logger.WithField("chain_id", chainID.String()).Info("RPC节点已连接")

	return &Client{
		eth:     eth,
		retrier: retry.NewRetrier(retry.NetworkRetryConfig, logger),
		logger:  logger,
		url:     url,
	}, nil
}

// BlockNumber 最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.retrier.Execute(ctx, "eth_blockNumber", func(ctx context.Context) error {
		n, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	return number, err
}

// FilterLogs 查询事件日志
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.retrier.Execute(ctx, "eth_getLogs", func(ctx context.Context) error {
		result, err := c.eth.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = result
		return nil
	})
	return logs, err
}

// HeaderByNumber 区块头
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.retrier.Execute(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		h, err := c.eth.HeaderByNumber(ctx, number)
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	return header, err
}

// Close 关闭连接
func (c *Client) Close() error {
	if c.eth != nil {
		c.logger.Info("关闭RPC连接")
		c.eth.Close()
	}
	return nil
}
