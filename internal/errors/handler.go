package errors

import (
	stderrors "errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler 错误处理器，负责按严重级别记录日志并统计错误码
type Handler struct {
	logger *logrus.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewHandler 创建错误处理器
func NewHandler(logger *logrus.Logger) *Handler {
	return &Handler{
		logger: logger,
		counts: make(map[string]int),
	}
}

// Normalize 将任意错误转换为FaucetError
func Normalize(err error) *FaucetError {
	if err == nil {
		return nil
	}
	var fe *FaucetError
	if stderrors.As(err, &fe) {
		return fe
	}
	return WrapError(err, ErrorTypeSystem, SeverityHigh, "UNKNOWN_ERROR", "未知错误")
}

// HandleError 记录错误并返回规范化后的错误
func (h *Handler) HandleError(err error) *FaucetError {
	fe := Normalize(err)
	if fe == nil {
		return nil
	}

	h.mu.Lock()
	h.counts[fe.Code]++
	h.mu.Unlock()

	entry := h.logger.WithFields(logrus.Fields{
		"error_type": fe.Type.String(),
		"error_code": fe.Code,
		"component":  fe.Component,
	})
	if len(fe.Context) > 0 {
		entry = entry.WithField("context", fe.Context)
	}
	if fe.Cause != nil {
		entry = entry.WithError(fe.Cause)
	}

	switch fe.Severity {
	case SeverityLow:
		entry.Debug(fe.Message)
	case SeverityMedium:
		entry.Warn(fe.Message)
	default:
		// 不使用Fatal，单个请求的错误不能终止进程
		entry.Error(fe.Message)
	}

	return fe
}

// Count 返回某个错误码出现的次数
func (h *Handler) Count(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[code]
}
