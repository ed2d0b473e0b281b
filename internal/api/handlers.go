package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"faucet/internal/eligibility"
	faucetErrors "faucet/internal/errors"
	"faucet/internal/reputation"
	"faucet/internal/retry"
	"faucet/pkg/models"

	"github.com/gin-gonic/gin"
)

// socialID 社交账号ID，兼容JSON数字和字符串
type socialID string

func (s *socialID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = socialID(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = socialID(num.String())
	return nil
}

type eligibilityRequest struct {
	Address    string   `json:"address"`
	IsPlatform bool     `json:"isPlatform"`
	SocialID   socialID `json:"socialId"`
}

type signatureRequest struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

type claimRequest struct {
	Address        string                 `json:"address"`
	TxHash         string                 `json:"txHash"`
	SocialIdentity *socialIdentityPayload `json:"socialIdentity"`
}

type socialIdentityPayload struct {
	ID          socialID `json:"id"`
	Handle      string   `json:"handle"`
	DisplayName string   `json:"displayName"`
}

type socialCheckRequest struct {
	ID socialID `json:"id"`
}

var errInvalidBody = faucetErrors.NewValidationError("INVALID_REQUEST_BODY", "Invalid request body")

// checkEligibility 检查地址是否可以领取，内部错误时放行
func (s *Server) checkEligibility(c *gin.Context) {
	var req eligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errInvalidBody)
		return
	}

	decision, err := s.deps.Gate.Evaluate(c.Request.Context(), &eligibility.Request{
		Address:    req.Address,
		IsPlatform: req.IsPlatform,
		Referer:    c.GetHeader("Referer"),
		UserAgent:  c.GetHeader("User-Agent"),
		SocialID:   string(req.SocialID),
	})
	if err != nil {
		if faucetErrors.IsType(err, faucetErrors.ErrorTypeValidation) {
			s.respondError(c, err)
			return
		}
		s.errHandler.HandleError(err)
		decision = models.Unverified(eligibility.MessageUnverified)
	}

	c.JSON(http.StatusOK, decision)
}

// requestSignature 签发领取授权
func (s *Server) requestSignature(c *gin.Context) {
	var req signatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errInvalidBody)
		return
	}

	grant, err := s.deps.Issuer.Issue(req.Address, strings.TrimSpace(req.Network))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

// logClaim 记录链上领取成功，存储失败不影响响应
func (s *Server) logClaim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errInvalidBody)
		return
	}

	record := &models.ClaimRecord{
		Address: req.Address,
		TxHash:  req.TxHash,
	}
	if req.SocialIdentity != nil {
		record.SocialIdentity = &models.SocialIdentity{
			ID:          string(req.SocialIdentity.ID),
			Handle:      req.SocialIdentity.Handle,
			DisplayName: req.SocialIdentity.DisplayName,
		}
	}

	if err := s.deps.Recorder.Record(c.Request.Context(), record); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// lookupProfile 查询社交账号，失败时返回错误由调用方放行
func (s *Server) lookupProfile(ctx context.Context, id string) (*reputation.Profile, error) {
	if s.deps.Reputation == nil {
		return nil, faucetErrors.ErrReputationNotConfigured
	}
	return retry.Attempt(ctx, s.reputationTimeout(), (*reputation.Profile)(nil),
		func(ctx context.Context) (*reputation.Profile, error) {
			return s.deps.Reputation.Lookup(ctx, id)
		})
}

// checkFollow 检查是否关注了指定账号
func (s *Server) checkFollow(c *gin.Context) {
	var req socialCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		s.respondError(c, faucetErrors.ErrMissingSocialID)
		return
	}

	profile, err := s.lookupProfile(c.Request.Context(), string(req.ID))
	if err != nil {
		s.errHandler.HandleError(faucetErrors.NewUpstreamError(err, "reputation", "关注状态查询失败，按已关注处理"))
		c.JSON(http.StatusOK, gin.H{"isFollowing": true, "apiError": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"isFollowing": profile.FollowsTarget})
}

// checkReputation 检查声誉分数是否达标
func (s *Server) checkReputation(c *gin.Context) {
	var req socialCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		s.respondError(c, faucetErrors.ErrMissingSocialID)
		return
	}

	profile, err := s.lookupProfile(c.Request.Context(), string(req.ID))
	if err != nil {
		s.errHandler.HandleError(faucetErrors.NewUpstreamError(err, "reputation", "声誉分数查询失败，按达标处理"))
		c.JSON(http.StatusOK, gin.H{"meetsThreshold": true, "apiError": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"meetsThreshold": profile.MeetsThreshold(s.config.Reputation.MinScore),
		"score":          profile.Score,
	})
}

// getStats 领取统计
func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Stats.GetStats(c.Request.Context()))
}

// getClaims 最近的领取记录
func (s *Server) getClaims(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	records := s.deps.Recorder.Recent(c.Request.Context(), limit, strings.TrimSpace(c.Query("socialId")))
	c.JSON(http.StatusOK, gin.H{"claims": records})
}

// getFaucetInfo 水龙头的公开配置
func (s *Server) getFaucetInfo(c *gin.Context) {
	networks := make([]gin.H, 0)
	for _, n := range s.deps.Issuer.Networks() {
		networks = append(networks, gin.H{
			"name":            n.Name,
			"chainId":         n.ChainID,
			"contractAddress": n.ContractAddress,
			"dripAmount":      n.DripAmount,
		})
	}

	info := gin.H{
		"dripAmount":         s.config.Faucet.DripAmount,
		"cooldownHours":      s.config.Faucet.CooldownHours,
		"networks":           networks,
		"requireFollow":      s.config.Faucet.RequireFollow,
		"requireReputation":  s.config.Faucet.RequireReputation,
		"strictPlatformMode": s.config.Faucet.StrictPlatformMode,
	}
	if signerAddr, err := s.deps.Issuer.SignerAddress(); err == nil {
		info["signerAddress"] = signerAddr.Hex()
	}

	c.JSON(http.StatusOK, info)
}
