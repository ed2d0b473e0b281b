package models

import "time"

// EligibilityStatus 资格判定状态
type EligibilityStatus string

const (
	StatusEligible         EligibilityStatus = "eligible"
	StatusCooldown         EligibilityStatus = "cooldown"
	StatusUnverified       EligibilityStatus = "unverified" // 无法验证，放行
	StatusPlatformRequired EligibilityStatus = "platform_required"
	StatusFollowRequired   EligibilityStatus = "follow_required"
	StatusLowReputation    EligibilityStatus = "low_reputation"
)

// EligibilityDecision 资格判定结果
type EligibilityDecision struct {
	Eligible      bool              `json:"eligible"`
	Status        EligibilityStatus `json:"status"`
	ReasonMessage string            `json:"message,omitempty"`
	RetryAfter    *time.Time        `json:"nextClaimTime,omitempty"`
	Degraded      bool              `json:"apiError,omitempty"`
}

// Eligible 创建可领取的判定
func Eligible() *EligibilityDecision {
	return &EligibilityDecision{Eligible: true, Status: StatusEligible}
}

// Unverified 创建降级放行的判定
func Unverified(message string) *EligibilityDecision {
	return &EligibilityDecision{
		Eligible:      true,
		Status:        StatusUnverified,
		ReasonMessage: message,
		Degraded:      true,
	}
}

// Ineligible 创建不可领取的判定
func Ineligible(status EligibilityStatus, message string) *EligibilityDecision {
	return &EligibilityDecision{
		Eligible:      false,
		Status:        status,
		ReasonMessage: message,
	}
}
