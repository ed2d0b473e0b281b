package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderHTTPServer  = 10 // 停止接受新请求并等待活跃请求完成
	OrderPublisher   = 30 // 关闭消息生产者
	OrderChainClient = 40 // 关闭RPC连接
	OrderStore       = 50 // 关闭领取记录存储
)

// ShutdownFunc 停机处理函数
type ShutdownFunc struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// GracefulShutdown 优雅停机管理器
type GracefulShutdown struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu            sync.Mutex
	shutdownFuncs []ShutdownFunc

	signalChan chan os.Signal
	once       sync.Once
	done       chan struct{}
	err        error
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		done:       make(chan struct{}),
	}
}

// RegisterShutdownFunc 注册停机处理函数
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.shutdownFuncs = append(gs.shutdownFuncs, ShutdownFunc{Name: name, Func: fn, Order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// RegisterCloser 注册只需要Close的资源
func (gs *GracefulShutdown) RegisterCloser(name string, closer interface{ Close() error }, order int) {
	gs.RegisterShutdownFunc(name, func(ctx context.Context) error {
		return closer.Close()
	}, order)
}

// Start 监听 SIGINT/SIGTERM，收到信号后执行停机
func (gs *GracefulShutdown) Start() {
	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-gs.signalChan:
			gs.logger.Infof("收到停机信号: %v", sig)
			gs.Shutdown()
		case <-gs.done:
		}
		signal.Stop(gs.signalChan)
	}()

	gs.logger.Info("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM")
}

// Wait 等待停机完成，返回停机过程中的错误
func (gs *GracefulShutdown) Wait() error {
	<-gs.done
	return gs.err
}

// Done 停机完成后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Shutdown 执行停机流程，多次调用只执行一次
func (gs *GracefulShutdown) Shutdown() {
	gs.once.Do(func() {
		gs.err = gs.performShutdown()
		close(gs.done)
	})
}

// performShutdown 按顺序执行停机函数，超时后跳过剩余的处理
func (gs *GracefulShutdown) performShutdown() error {
	gs.logger.Info("开始优雅停机流程...")

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.mu.Lock()
	funcs := append([]ShutdownFunc(nil), gs.shutdownFuncs...)
	gs.mu.Unlock()
	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Order < funcs[j].Order })

	var errs []error
	for _, fn := range funcs {
		if ctx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过: %s", fn.Name)
			errs = append(errs, fmt.Errorf("%s: %w", fn.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		if err := fn.Func(ctx); err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", fn.Name, time.Since(start), err)
			errs = append(errs, fmt.Errorf("%s: %w", fn.Name, err))
			continue
		}
		gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", fn.Name, time.Since(start))
	}

	if len(errs) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
		return errors.Join(errs...)
	}

	gs.logger.Info("优雅停机流程完成")
	return nil
}
