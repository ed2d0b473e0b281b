package errors

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFaucetError(t *testing.T) {
	err := NewFaucetError(ErrorTypeUpstream, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeUpstream, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.False(t, err.Timestamp.IsZero())
}

func TestFaucetError_Error(t *testing.T) {
	err := NewFaucetError(ErrorTypeSystem, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息", err.Error())

	wrapped := WrapError(errors.New("原始错误"), ErrorTypeSystem, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息: 原始错误", wrapped.Error())
}

func TestFaucetError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := NewUpstreamError(cause, "reputation", "声誉API调用失败")

	assert.Equal(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "reputation", err.Component)

	wrapped := fmt.Errorf("签名失败: %w", ErrSignerKeyMissing)
	assert.ErrorIs(t, wrapped, ErrSignerKeyMissing)
	assert.NotErrorIs(t, wrapped, ErrContractMissing)
	assert.True(t, IsType(wrapped, ErrorTypeConfig))
	assert.False(t, IsType(wrapped, ErrorTypeValidation))
}

func TestFaucetError_WithContextDoesNotMutatePredefined(t *testing.T) {
	err := ErrInvalidAddress.WithContext("address", "not-an-address")

	assert.Equal(t, "not-an-address", err.Context["address"])
	assert.Nil(t, ErrInvalidAddress.Context)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestFaucetError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err      *FaucetError
		expected int
	}{
		{ErrInvalidAddress, http.StatusBadRequest},
		{ErrMissingTxHash, http.StatusBadRequest},
		{ErrSignerKeyMissing, http.StatusInternalServerError},
		{ErrStoreUnavailable, http.StatusInternalServerError},
		{NewUpstreamError(errors.New("x"), "rpc", "节点不可用"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.err.HTTPStatus(), tt.err.Code)
	}
}

func TestFaucetError_PublicMessageHidesConfiguration(t *testing.T) {
	assert.Equal(t, "Invalid wallet address", ErrInvalidAddress.PublicMessage())
	assert.NotContains(t, ErrSignerKeyMissing.PublicMessage(), "私钥")
	assert.Equal(t, "Internal server error", ErrStoreUnavailable.PublicMessage())
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrorTypeValidation, "Validation"},
		{ErrorTypeConfig, "Configuration"},
		{ErrorTypeUpstream, "UpstreamUnavailable"},
		{ErrorTypeTransaction, "TransactionFailure"},
		{ErrorType(999), "Unknown(999)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.errorType.String())
	}
}

func TestErrorSeverity_String(t *testing.T) {
	assert.Equal(t, "Low", SeverityLow.String())
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Unknown(999)", ErrorSeverity(999).String())
}

func TestHandler_HandleError(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)

	h := NewHandler(logger)

	fe := h.HandleError(errors.New("boom"))
	require.NotNil(t, fe)
	assert.Equal(t, "UNKNOWN_ERROR", fe.Code)
	assert.Equal(t, ErrorTypeSystem, fe.Type)
	assert.Contains(t, buf.String(), "UNKNOWN_ERROR")

	h.HandleError(ErrInvalidAddress)
	h.HandleError(fmt.Errorf("wrap: %w", ErrInvalidAddress))
	assert.Equal(t, 2, h.Count("INVALID_ADDRESS"))
	assert.Nil(t, h.HandleError(nil))
}
