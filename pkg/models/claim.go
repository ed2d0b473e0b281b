package models

import (
	"strings"
	"time"
)

// SocialIdentity 社交平台身份，仅在用户通过社交平台登录时附带
type SocialIdentity struct {
	ID          string `json:"id"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ClaimRecord 链上领取记录
type ClaimRecord struct {
	Address        string          `json:"address"`
	TxHash         string          `json:"txHash"`
	Timestamp      time.Time       `json:"timestamp"`
	SocialIdentity *SocialIdentity `json:"socialIdentity,omitempty"`
}

// Normalize 将地址和交易哈希统一为小写
func (c *ClaimRecord) Normalize() {
	c.Address = strings.ToLower(strings.TrimSpace(c.Address))
	c.TxHash = strings.ToLower(strings.TrimSpace(c.TxHash))
	if c.SocialIdentity != nil && strings.TrimSpace(c.SocialIdentity.ID) == "" {
		c.SocialIdentity = nil
	}
}

// SocialID 返回社交身份ID，未附带时为空字符串
func (c *ClaimRecord) SocialID() string {
	if c.SocialIdentity == nil {
		return ""
	}
	return c.SocialIdentity.ID
}

// ClaimEvent 发送到消息队列的领取事件
type ClaimEvent struct {
	Type      string       `json:"type"`
	Claim     *ClaimRecord `json:"claim"`
	EmittedAt time.Time    `json:"emitted_at"`
}

// ClaimEventRecorded 领取已记录事件类型
const ClaimEventRecorded = "claim.recorded"

// NewClaimEvent 创建领取事件
func NewClaimEvent(record *ClaimRecord) *ClaimEvent {
	return &ClaimEvent{
		Type:      ClaimEventRecorded,
		Claim:     record,
		EmittedAt: time.Now().UTC(),
	}
}
