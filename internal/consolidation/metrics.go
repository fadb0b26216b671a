package consolidation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/storesync/internal/transport"
)

// Score weights; they sum to 1.
var (
	weightRevenue      = decimal.RequireFromString("0.40")
	weightTransactions = decimal.RequireFromString("0.25")
	weightEfficiency   = decimal.RequireFromString("0.20")
	weightInventory    = decimal.RequireFromString("0.15")

	hundred = decimal.NewFromInt(100)
)

// computeStore derives the absolute metrics of one store. Scores are filled
// in later by scoreStores because they are relative to the whole run.
func computeStore(ds transport.StoreDataset, lowStockThreshold decimal.Decimal) StoreMetrics {
	m := StoreMetrics{
		StoreID:       ds.StoreID,
		StoreName:     ds.StoreName,
		LowStockItems: []string{},
	}

	for _, tx := range ds.Transactions {
		if !countsAsSale(tx.Status) {
			continue
		}
		m.Revenue = m.Revenue.Add(tx.Total)
		m.TransactionCount++
	}
	m.Revenue = m.Revenue.Round(2)
	if m.TransactionCount > 0 {
		m.AverageTicket = m.Revenue.Div(decimal.NewFromInt(int64(m.TransactionCount))).Round(2)
	}

	for _, line := range ds.Inventory {
		m.InventoryItems++
		m.InventoryValue = m.InventoryValue.Add(line.Quantity.Mul(line.UnitCost))

		limit := lowStockThreshold
		if line.ReorderLevel.IsPositive() {
			limit = line.ReorderLevel
		}
		if line.Quantity.LessThanOrEqual(limit) {
			m.LowStockItems = append(m.LowStockItems, line.ProductID)
		}
	}
	m.InventoryValue = m.InventoryValue.Round(2)
	sort.Strings(m.LowStockItems)
	return m
}

// countsAsSale accepts completed transactions; an empty status is treated
// as completed.
func countsAsSale(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	return s == "" || s == "completed"
}

// scoreStores fills SubScores and PerformanceScore relative to the best
// store of the run.
func scoreStores(stores []StoreMetrics) {
	var maxRevenue, maxTicket decimal.Decimal
	maxCount := 0
	for _, m := range stores {
		maxRevenue = decimal.Max(maxRevenue, m.Revenue)
		maxTicket = decimal.Max(maxTicket, m.AverageTicket)
		if m.TransactionCount > maxCount {
			maxCount = m.TransactionCount
		}
	}

	for i := range stores {
		m := &stores[i]

		revenue := percentOf(m.Revenue, maxRevenue)
		transactions := percentOf(decimal.NewFromInt(int64(m.TransactionCount)), decimal.NewFromInt(int64(maxCount)))
		efficiency := percentOf(m.AverageTicket, maxTicket)
		inventory := decimal.Zero
		if m.InventoryItems > 0 {
			healthy := decimal.NewFromInt(int64(m.InventoryItems - len(m.LowStockItems)))
			inventory = percentOf(healthy, decimal.NewFromInt(int64(m.InventoryItems)))
		}

		score := revenue.Mul(weightRevenue).
			Add(transactions.Mul(weightTransactions)).
			Add(efficiency.Mul(weightEfficiency)).
			Add(inventory.Mul(weightInventory))
		score = clamp(score, decimal.Zero, hundred)

		m.SubScores = SubScores{
			Revenue:      roundScore(revenue),
			Transactions: roundScore(transactions),
			Efficiency:   roundScore(efficiency),
			Inventory:    roundScore(inventory),
		}
		m.PerformanceScore = roundScore(score)
	}
}

func percentOf(v, max decimal.Decimal) decimal.Decimal {
	if !max.IsPositive() || v.IsNegative() {
		return decimal.Zero
	}
	return clamp(v.Mul(hundred).Div(max), decimal.Zero, hundred)
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(v, lo), hi)
}

func roundScore(d decimal.Decimal) float64 {
	return d.Round(1).InexactFloat64()
}

// compareAll returns every unordered pair once, A < B by store id.
// stores must already be sorted by id.
func compareAll(stores []StoreMetrics) []Comparison {
	out := []Comparison{}
	for i := 0; i < len(stores); i++ {
		for j := i + 1; j < len(stores); j++ {
			a, b := stores[i], stores[j]
			c := Comparison{
				StoreA:          a.StoreID,
				StoreB:          b.StoreID,
				RevenueDiff:     a.Revenue.Sub(b.Revenue),
				TransactionDiff: a.TransactionCount - b.TransactionCount,
				ScoreDiff: decimal.NewFromFloat(a.PerformanceScore).
					Sub(decimal.NewFromFloat(b.PerformanceScore)).Round(1).InexactFloat64(),
			}
			switch {
			case a.PerformanceScore > b.PerformanceScore:
				c.Leader = a.StoreID
			case b.PerformanceScore > a.PerformanceScore:
				c.Leader = b.StoreID
			}
			out = append(out, c)
		}
	}
	return out
}

// deriveInsights lists the top performer first, then per-store warnings in
// store id order. stores must already be sorted by id.
func deriveInsights(stores []StoreMetrics) []Insight {
	out := []Insight{}
	if len(stores) == 0 {
		return out
	}

	top := stores[0]
	for _, m := range stores[1:] {
		if m.PerformanceScore > top.PerformanceScore {
			top = m
		}
	}
	out = append(out, Insight{
		Kind:    InsightTopPerformer,
		StoreID: top.StoreID,
		Message: fmt.Sprintf("%s leads with a performance score of %.1f", displayName(top), top.PerformanceScore),
	})

	for _, m := range stores {
		if n := len(m.LowStockItems); n > 0 {
			out = append(out, Insight{
				Kind:    InsightLowStock,
				StoreID: m.StoreID,
				Message: fmt.Sprintf("%d item(s) at or below reorder level: %s", n, strings.Join(m.LowStockItems, ", ")),
			})
		}
		if m.TransactionCount == 0 {
			out = append(out, Insight{
				Kind:    InsightNoSales,
				StoreID: m.StoreID,
				Message: fmt.Sprintf("%s recorded no completed sales", displayName(m)),
			})
		}
	}
	return out
}

func displayName(m StoreMetrics) string {
	if m.StoreName != "" {
		return m.StoreName
	}
	return m.StoreID
}

func totalsOf(stores []StoreMetrics) Totals {
	var t Totals
	for _, m := range stores {
		t.Revenue = t.Revenue.Add(m.Revenue)
		t.TransactionCount += m.TransactionCount
		t.InventoryValue = t.InventoryValue.Add(m.InventoryValue)
	}
	if t.TransactionCount > 0 {
		t.AverageTicket = t.Revenue.Div(decimal.NewFromInt(int64(t.TransactionCount))).Round(2)
	}
	return t
}
