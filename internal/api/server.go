package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"faucet/internal/claims"
	"faucet/internal/config"
	"faucet/internal/eligibility"
	faucetErrors "faucet/internal/errors"
	"faucet/internal/reputation"
	"faucet/internal/signer"
	"faucet/internal/stats"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Dependencies API依赖的业务组件
type Dependencies struct {
	Config     *config.Config
	Gate       *eligibility.Gate
	Recorder   *claims.Recorder
	Issuer     *signer.Issuer
	Stats      *stats.Aggregator
	Reputation reputation.Checker // 未配置声誉API时为nil
	Logger     *logrus.Logger
}

// Server API服务器
type Server struct {
	deps       *Dependencies
	config     *config.Config
	logger     *logrus.Logger
	errHandler *faucetErrors.Handler
	router     *gin.Engine
	server     *http.Server
}

// NewServer 创建API服务器
func NewServer(deps *Dependencies) *Server {
	s := &Server{
		deps:       deps,
		config:     deps.Config,
		logger:     deps.Logger,
		errHandler: faucetErrors.NewHandler(deps.Logger),
	}

	router := gin.New()
	router.Use(requestID())
	router.Use(recovery(s.logger))
	router.Use(requestLogger(s.logger))
	router.Use(cors(s.config.Server.AllowedOrigins))

	s.setupRoutes(router)
	s.router = router
	return s
}

// Handler 返回HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.config.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 停止API服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("正在关闭API服务器")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", s.healthCheck)

	api := router.Group("/api")
	{
		api.GET("/health", s.healthCheck)

		// 领取流程
		api.POST("/check-eligibility", s.checkEligibility)
		api.POST("/request-signature", s.requestSignature)
		api.POST("/log-claim", s.logClaim)

		// 社交平台检查
		api.POST("/check-follow", s.checkFollow)
		api.POST("/check-reputation", s.checkReputation)

		// 展示信息
		api.GET("/stats", s.getStats)
		api.GET("/claims", s.getClaims)
		api.GET("/faucet-info", s.getFaucetInfo)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// respondError 记录错误并返回对应的状态码和公开信息
func (s *Server) respondError(c *gin.Context, err error) {
	fe := s.errHandler.HandleError(err)
	c.JSON(fe.HTTPStatus(), gin.H{"error": fe.PublicMessage()})
}

func (s *Server) reputationTimeout() time.Duration {
	if s.config.Reputation != nil && s.config.Reputation.Timeout > 0 {
		return s.config.Reputation.Timeout
	}
	return 5 * time.Second
}
