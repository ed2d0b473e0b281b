package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"faucet/internal/config"
	faucetErrors "faucet/internal/errors"
	"faucet/internal/validation"
	"faucet/pkg/models"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Issuer 领取授权签发器
//
// 私钥在创建时解析一次，只保存在内存中。私钥缺失或格式错误不会阻止服务启动，
// 而是在签发时返回配置错误。
type Issuer struct {
	logger   *logrus.Logger
	key      *ecdsa.PrivateKey
	keyErr   error
	networks map[string]*config.NetworkConfig
	order    []string

	now func() time.Time

	randMu sync.Mutex
	random io.Reader
}

// NewIssuer 创建签发器
func NewIssuer(cfg *config.SignerConfig, logger *logrus.Logger) *Issuer {
	issuer := &Issuer{
		logger:   logger,
		networks: make(map[string]*config.NetworkConfig),
		now:      time.Now,
		random:   rand.Reader,
	}

	for _, network := range cfg.AllNetworks() {
		issuer.networks[network.Name] = network
		issuer.order = append(issuer.order, network.Name)
	}

	issuer.key, issuer.keyErr = parsePrivateKey(cfg.PrivateKey)
	if issuer.keyErr != nil {
		logger.WithField("error_code", faucetErrors.Normalize(issuer.keyErr).Code).
			Warn("签名私钥不可用，签发授权将返回配置错误")
	} else {
		logger.WithField("signer", crypto.PubkeyToAddress(issuer.key.PublicKey).Hex()).
			Info("签名器已加载")
	}

	return issuer
}

// parsePrivateKey 解析十六进制私钥，错误信息中不包含私钥内容
func parsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, faucetErrors.ErrSignerKeyMissing
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, faucetErrors.ErrSignerKeyInvalid
	}
	return key, nil
}

// Networks 已配置的网络，主网络在前
func (i *Issuer) Networks() []*config.NetworkConfig {
	result := make([]*config.NetworkConfig, 0, len(i.order))
	for _, name := range i.order {
		result = append(result, i.networks[name])
	}
	return result
}

// SignerAddress 签名者地址，合约以此验证签名
func (i *Issuer) SignerAddress() (common.Address, error) {
	if i.keyErr != nil {
		return common.Address{}, i.keyErr
	}
	return crypto.PubkeyToAddress(i.key.PublicKey), nil
}

// Issue 为领取地址签发一次性授权，network为空时使用主网络
func (i *Issuer) Issue(claimant, network string) (*models.AuthorizationGrant, error) {
	address, err := validation.NormalizeAddress(claimant)
	if err != nil {
		return nil, err
	}

	if network == "" {
		network = config.PrimaryNetwork
	}
	netCfg, ok := i.networks[network]
	if !ok {
		return nil, faucetErrors.ErrUnknownNetwork.WithContext("network", network)
	}

	if i.keyErr != nil {
		return nil, i.keyErr
	}
	if netCfg.ContractAddress == "" || !common.IsHexAddress(netCfg.ContractAddress) {
		return nil, faucetErrors.ErrContractMissing.WithContext("network", network)
	}

	var nonce [32]byte
	if err := i.readNonce(nonce[:]); err != nil {
		return nil, faucetErrors.WrapError(err, faucetErrors.ErrorTypeSystem, faucetErrors.SeverityHigh,
			"NONCE_GENERATION_FAILED", "生成随机数失败")
	}

	deadline := i.now().Add(netCfg.DeadlineWindow).Unix()
	contract := common.HexToAddress(netCfg.ContractAddress)
	hash := BindingHash(common.HexToAddress(address), nonce, big.NewInt(deadline), contract)

	signature, err := crypto.Sign(accounts.TextHash(hash.Bytes()), i.key)
	if err != nil {
		return nil, faucetErrors.WrapError(err, faucetErrors.ErrorTypeSystem, faucetErrors.SeverityHigh,
			"SIGNING_FAILED", "签名失败")
	}
	// 合约使用 ecrecover，V 需要为 27/28
	signature[crypto.RecoveryIDOffset] += 27

	i.logger.WithFields(logrus.Fields{
		"claimant": address,
		"network":  network,
		"deadline": deadline,
	}).Info("已签发领取授权")

	return &models.AuthorizationGrant{
		Claimant:        address,
		Nonce:           hexutil.Encode(nonce[:]),
		Deadline:        deadline,
		Signature:       hexutil.Encode(signature),
		ContractAddress: contract.Hex(),
		ChainID:         netCfg.ChainID,
		Network:         network,
	}, nil
}

func (i *Issuer) readNonce(buf []byte) error {
	i.randMu.Lock()
	defer i.randMu.Unlock()
	_, err := io.ReadFull(i.random, buf)
	return err
}

// BindingHash 计算 keccak256(abi.encodePacked(claimant, nonce, deadline, contract))
func BindingHash(claimant common.Address, nonce [32]byte, deadline *big.Int, contract common.Address) common.Hash {
	return crypto.Keccak256Hash(
		claimant.Bytes(),
		nonce[:],
		common.LeftPadBytes(deadline.Bytes(), 32),
		contract.Bytes(),
	)
}

// RecoverSigner 从授权中恢复签名者地址，与合约端的验证逻辑一致
func RecoverSigner(grant *models.AuthorizationGrant) (common.Address, error) {
	nonceBytes, err := hexutil.Decode(grant.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return common.Address{}, fmt.Errorf("无效的nonce: %s", grant.Nonce)
	}
	signature, err := hexutil.Decode(grant.Signature)
	if err != nil || len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("无效的签名")
	}

	var nonce [32]byte
	copy(nonce[:], nonceBytes)
	hash := BindingHash(
		common.HexToAddress(grant.Claimant),
		nonce,
		big.NewInt(grant.Deadline),
		common.HexToAddress(grant.ContractAddress),
	)

	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("恢复签名者失败: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
