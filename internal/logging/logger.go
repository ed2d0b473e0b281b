package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // 日志级别 (debug, info, warn, error)
	Format string `mapstructure:"format" json:"format"` // 日志格式 (json, text)
	Output string `mapstructure:"output" json:"output"` // 输出路径 (stdout, stderr, file path)
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// NewLogger 根据配置创建logrus日志器
func NewLogger(config *LogConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 '%s': %w", config.Level, err)
	}

	writer, err := getLogWriter(config.Output)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(writer)

	switch strings.ToLower(config.Format) {
	case "json", "":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}

	return logger, nil
}

// parseLogLevel 解析日志级别
func parseLogLevel(levelStr string) (logrus.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("未知的日志级别: %s", levelStr)
	}
}

// getLogWriter 获取日志输出
func getLogWriter(output string) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		dir := filepath.Dir(output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}

		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		return file, nil
	}
}

// ClaimLogger 领取流程专用日志器
func ClaimLogger(base logrus.FieldLogger, address, txHash string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"component": "claim_recorder",
		"address":   address,
		"tx_hash":   txHash,
	})
}

// RequestLogger HTTP请求专用日志器
func RequestLogger(base logrus.FieldLogger, requestID, path string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"component":  "api",
		"request_id": requestID,
		"path":       path,
	})
}

// ComponentLogger 组件日志器
func ComponentLogger(base logrus.FieldLogger, component string) *logrus.Entry {
	return base.WithField("component", component)
}
