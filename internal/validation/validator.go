package validation

import (
	"regexp"
	"strings"

	"faucet/internal/errors"
	"faucet/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

var (
	hashRegex    = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	addressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")
)

// IsValidAddress 验证地址格式，要求带0x前缀
func IsValidAddress(addr string) bool {
	if !addressRegex.MatchString(addr) {
		return false
	}
	return common.IsHexAddress(addr)
}

// IsValidHash 验证32字节哈希格式
func IsValidHash(hash string) bool {
	return hashRegex.MatchString(hash)
}

// NormalizeAddress 校验并将地址转换为小写
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.ErrMissingAddress
	}
	if !IsValidAddress(addr) {
		return "", errors.ErrInvalidAddress.WithContext("address", addr)
	}
	return strings.ToLower(addr), nil
}

// ValidateClaim 校验领取记录的必填字段并规范化
func ValidateClaim(claim *models.ClaimRecord) error {
	if claim == nil {
		return errors.ErrMissingAddress
	}

	address, err := NormalizeAddress(claim.Address)
	if err != nil {
		return err
	}

	txHash := strings.TrimSpace(claim.TxHash)
	if txHash == "" {
		return errors.ErrMissingTxHash
	}
	if !IsValidHash(txHash) {
		return errors.ErrInvalidTxHash.WithContext("tx_hash", txHash)
	}

	claim.Address = address
	claim.TxHash = txHash
	claim.Normalize()
	return nil
}
