package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 请求参数错误，直接返回给调用方
	ErrorTypeValidation ErrorType = iota

	// 服务端配置缺失（签名私钥、合约地址等）
	ErrorTypeConfig

	// 外部依赖不可用（存储、声誉API、RPC节点）
	ErrorTypeUpstream
	ErrorTypeTimeout

	// 链上交易失败（钱包拒绝、合约回滚、gas不足）
	ErrorTypeTransaction

	// 内部错误
	ErrorTypeStorage
	ErrorTypeSystem
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// FaucetError 自定义错误类型
type FaucetError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error 实现error接口
func (e *FaucetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *FaucetError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，使预定义错误可以配合 errors.Is 使用
func (e *FaucetError) Is(target error) bool {
	t, ok := target.(*FaucetError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithContext 添加上下文信息，返回副本以免污染预定义错误
func (e *FaucetError) WithContext(key string, value interface{}) *FaucetError {
	cp := *e
	cp.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// WithComponent 设置出错组件
func (e *FaucetError) WithComponent(component string) *FaucetError {
	cp := *e
	cp.Component = component
	return &cp
}

// HTTPStatus 错误对应的HTTP状态码
func (e *FaucetError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeUpstream, ErrorTypeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 可以返回给客户端的错误信息
func (e *FaucetError) PublicMessage() string {
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeTransaction:
		return e.Message
	case ErrorTypeConfig:
		return "Faucet is not configured correctly. Please try again later."
	default:
		return "Internal server error"
	}
}

// NewFaucetError 创建新的错误
func NewFaucetError(errorType ErrorType, severity ErrorSeverity, code, message string) *FaucetError {
	return &FaucetError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *FaucetError {
	return &FaucetError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// NewValidationError 创建参数校验错误
func NewValidationError(code, message string) *FaucetError {
	return NewFaucetError(ErrorTypeValidation, SeverityLow, code, message)
}

// NewConfigError 创建配置错误
func NewConfigError(code, message string) *FaucetError {
	return NewFaucetError(ErrorTypeConfig, SeverityCritical, code, message)
}

// NewUpstreamError 包装外部依赖错误
func NewUpstreamError(err error, component, message string) *FaucetError {
	return WrapError(err, ErrorTypeUpstream, SeverityMedium, "UPSTREAM_UNAVAILABLE", message).WithComponent(component)
}

// 预定义错误
var (
	ErrMissingAddress = NewValidationError(
		"MISSING_ADDRESS",
		"Address is required",
	)

	ErrInvalidAddress = NewValidationError(
		"INVALID_ADDRESS",
		"Invalid wallet address",
	)

	ErrMissingTxHash = NewValidationError(
		"MISSING_TX_HASH",
		"Transaction hash is required",
	)

	ErrInvalidTxHash = NewValidationError(
		"INVALID_TX_HASH",
		"Invalid transaction hash",
	)

	ErrMissingSocialID = NewValidationError(
		"MISSING_SOCIAL_ID",
		"User id is required",
	)

	ErrUnknownNetwork = NewValidationError(
		"UNKNOWN_NETWORK",
		"Unsupported network",
	)

	ErrSignerKeyMissing = NewConfigError(
		"SIGNER_KEY_MISSING",
		"签名私钥未配置",
	)

	ErrSignerKeyInvalid = NewConfigError(
		"SIGNER_KEY_INVALID",
		"签名私钥格式无效",
	)

	ErrContractMissing = NewConfigError(
		"CONTRACT_ADDRESS_MISSING",
		"合约地址未配置",
	)

	ErrReputationNotConfigured = NewConfigError(
		"REPUTATION_NOT_CONFIGURED",
		"声誉API未配置",
	)

	ErrStoreUnavailable = NewFaucetError(
		ErrorTypeStorage,
		SeverityHigh,
		"STORE_UNAVAILABLE",
		"领取记录存储不可用",
	)

	ErrTransactionFailed = NewFaucetError(
		ErrorTypeTransaction,
		SeverityMedium,
		"TRANSACTION_FAILED",
		"Transaction failed. Please try again.",
	)
)

// IsType 判断错误链中是否包含指定类型的FaucetError
func IsType(err error, errorType ErrorType) bool {
	var fe *FaucetError
	if stderrors.As(err, &fe) {
		return fe.Type == errorType
	}
	return false
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeValidation:  "Validation",
	ErrorTypeConfig:      "Configuration",
	ErrorTypeUpstream:    "UpstreamUnavailable",
	ErrorTypeTimeout:     "Timeout",
	ErrorTypeTransaction: "TransactionFailure",
	ErrorTypeStorage:     "Storage",
	ErrorTypeSystem:      "System",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}
