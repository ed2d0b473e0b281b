package models

// AuthorizationGrant 领取授权，签名后立即返回，不做持久化
type AuthorizationGrant struct {
	Claimant        string `json:"claimant"`
	Nonce           string `json:"nonce"`
	Deadline        int64  `json:"deadline"`
	Signature       string `json:"signature"`
	ContractAddress string `json:"contractAddress"`
	ChainID         int64  `json:"chainId,omitempty"`
	Network         string `json:"network"`
}
