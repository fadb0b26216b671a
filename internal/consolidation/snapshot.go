package consolidation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the persisted result of one consolidation run.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	// StoreIDs are the requested stores, sorted and de-duplicated.
	StoreIDs    []string          `json:"store_ids"`
	Included    []string          `json:"included"`
	Excluded    map[string]string `json:"excluded"`
	Stores      []StoreMetrics    `json:"stores"`
	Comparisons []Comparison      `json:"comparisons"`
	Insights    []Insight         `json:"insights"`
	Totals      Totals            `json:"totals"`
}

// StoreMetrics are the computed figures for one store.
type StoreMetrics struct {
	StoreID          string          `json:"store_id"`
	StoreName        string          `json:"store_name"`
	Revenue          decimal.Decimal `json:"revenue"`
	TransactionCount int             `json:"transaction_count"`
	AverageTicket    decimal.Decimal `json:"average_ticket"`
	InventoryValue   decimal.Decimal `json:"inventory_value"`
	InventoryItems   int             `json:"inventory_items"`
	LowStockItems    []string        `json:"low_stock_items"`
	PerformanceScore float64         `json:"performance_score"`
	SubScores        SubScores       `json:"sub_scores"`
}

// SubScores are the 0-100 components of the performance score.
type SubScores struct {
	Revenue      float64 `json:"revenue"`
	Transactions float64 `json:"transactions"`
	Efficiency   float64 `json:"efficiency"`
	Inventory    float64 `json:"inventory"`
}

// Comparison contrasts two stores; differences are A minus B.
type Comparison struct {
	StoreA          string          `json:"store_a"`
	StoreB          string          `json:"store_b"`
	RevenueDiff     decimal.Decimal `json:"revenue_diff"`
	TransactionDiff int             `json:"transaction_diff"`
	ScoreDiff       float64         `json:"score_diff"`
	// Leader is the store with the higher score, empty on a tie.
	Leader string `json:"leader"`
}

// InsightKind classifies an insight.
type InsightKind string

const (
	InsightTopPerformer InsightKind = "top_performer"
	InsightLowStock     InsightKind = "low_stock"
	InsightNoSales      InsightKind = "no_sales"
)

// Insight is a qualitative observation derived from the metrics.
type Insight struct {
	Kind    InsightKind `json:"kind"`
	StoreID string      `json:"store_id"`
	Message string      `json:"message"`
}

// Totals aggregate the included stores.
type Totals struct {
	Revenue          decimal.Decimal `json:"revenue"`
	TransactionCount int             `json:"transaction_count"`
	AverageTicket    decimal.Decimal `json:"average_ticket"`
	InventoryValue   decimal.Decimal `json:"inventory_value"`
}
