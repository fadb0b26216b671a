package consolidation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/transport"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeStore_CountsCompletedSalesOnly(t *testing.T) {
	m := computeStore(transport.StoreDataset{
		StoreID: "s1",
		Transactions: []transport.Transaction{
			{ID: "t1", Total: dec("10.005"), Status: "Completed"},
			{ID: "t2", Total: dec("5"), Status: ""},
			{ID: "t3", Total: dec("99"), Status: "refunded"},
		},
	}, dec("5"))

	assert.Equal(t, 2, m.TransactionCount)
	assert.Equal(t, "15.01", m.Revenue.String())
	assert.Equal(t, "7.51", m.AverageTicket.String())
	assert.Empty(t, m.LowStockItems)
	assert.NotNil(t, m.LowStockItems)
}

func TestComputeStore_LowStock(t *testing.T) {
	m := computeStore(transport.StoreDataset{
		StoreID: "s1",
		Inventory: []transport.InventoryLine{
			{ProductID: "b", Quantity: dec("5"), UnitCost: dec("1")},
			{ProductID: "a", Quantity: dec("8"), UnitCost: dec("1"), ReorderLevel: dec("8")},
			{ProductID: "c", Quantity: dec("9"), UnitCost: dec("1"), ReorderLevel: dec("8")},
			{ProductID: "d", Quantity: dec("6"), UnitCost: dec("1")},
		},
	}, dec("5"))

	assert.Equal(t, []string{"a", "b"}, m.LowStockItems)
	assert.Equal(t, 4, m.InventoryItems)
	assert.Equal(t, "28", m.InventoryValue.String())
}

func TestScoreStores_RelativeToBest(t *testing.T) {
	stores := []StoreMetrics{
		{StoreID: "a", Revenue: dec("100"), TransactionCount: 4, AverageTicket: dec("25"), InventoryItems: 4, LowStockItems: []string{"x"}},
		{StoreID: "b", Revenue: dec("50"), TransactionCount: 1, AverageTicket: dec("50")},
	}
	scoreStores(stores)

	assert.Equal(t, SubScores{Revenue: 100, Transactions: 100, Efficiency: 50, Inventory: 75}, stores[0].SubScores)
	assert.InDelta(t, 86.3, stores[0].PerformanceScore, 0.001)

	assert.Equal(t, SubScores{Revenue: 50, Transactions: 25, Efficiency: 100, Inventory: 0}, stores[1].SubScores)
	assert.InDelta(t, 46.3, stores[1].PerformanceScore, 0.001)
}

func TestScoreStores_NoSalesAnywhere(t *testing.T) {
	stores := []StoreMetrics{{StoreID: "a"}, {StoreID: "b"}}
	scoreStores(stores)

	for _, m := range stores {
		assert.Zero(t, m.PerformanceScore)
	}
}

func TestCompareAll_TieHasNoLeader(t *testing.T) {
	stores := []StoreMetrics{
		{StoreID: "a", PerformanceScore: 50, Revenue: dec("10")},
		{StoreID: "b", PerformanceScore: 50, Revenue: dec("12")},
		{StoreID: "c", PerformanceScore: 70},
	}
	cmp := compareAll(stores)

	require.Len(t, cmp, 3)
	assert.Equal(t, "", cmp[0].Leader)
	assert.Equal(t, "-2", cmp[0].RevenueDiff.String())
	assert.Equal(t, "c", cmp[1].Leader)
	assert.Equal(t, -20.0, cmp[1].ScoreDiff)
	assert.Equal(t, "b", cmp[2].StoreA)
	assert.Equal(t, "c", cmp[2].StoreB)
}

func TestDeriveInsights(t *testing.T) {
	stores := []StoreMetrics{
		{StoreID: "a", StoreName: "Alpha", PerformanceScore: 60, TransactionCount: 3, LowStockItems: []string{}},
		{StoreID: "b", PerformanceScore: 60, LowStockItems: []string{"p1", "p2"}},
	}
	insights := deriveInsights(stores)

	assert.Equal(t, []Insight{
		{Kind: InsightTopPerformer, StoreID: "a", Message: "Alpha leads with a performance score of 60.0"},
		{Kind: InsightLowStock, StoreID: "b", Message: "2 item(s) at or below reorder level: p1, p2"},
		{Kind: InsightNoSales, StoreID: "b", Message: "b recorded no completed sales"},
	}, insights)
}

func TestDeriveInsights_Empty(t *testing.T) {
	assert.Equal(t, []Insight{}, deriveInsights(nil))
}
