package models

// 统计数据来源
const (
	StatsSourceDatabase   = "database"
	StatsSourceBlockchain = "blockchain"
	StatsSourceError      = "error"
)

// Stats 领取统计
type Stats struct {
	TotalClaims   int64  `json:"totalClaims"`
	ClaimsLast24h int64  `json:"claimsLast24h"`
	Source        string `json:"source"`

	// 链上统计时的查询区块范围，totalClaims 仅代表该范围内的领取数
	FromBlock uint64 `json:"fromBlock,omitempty"`
	ToBlock   uint64 `json:"toBlock,omitempty"`
}

// ErrorStats 所有来源都失败时返回的零值统计
func ErrorStats() *Stats {
	return &Stats{Source: StatsSourceError}
}
