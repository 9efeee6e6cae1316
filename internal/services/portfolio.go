package services

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trading-engine/internal/models"
)

// DailySummary aggregates one calendar day of transactions.
type DailySummary struct {
	Date         string  `json:"date"`
	Transactions int     `json:"transactions"`
	Bought       float64 `json:"bought"`
	Sold         float64 `json:"sold"`
	NetCashFlow  float64 `json:"netCashFlow"`
}

// PortfolioSummary is the read model behind the portfolio page.
type PortfolioSummary struct {
	Balance        float64          `json:"balance"`
	OpenHoldings   []models.Holding `json:"openHoldings"`
	ClosedHoldings []models.Holding `json:"closedHoldings"`
	UnrealizedPnL  float64          `json:"unrealizedPnL"`
	RealizedPnL    float64          `json:"realizedPnL"`
	TotalPnL       float64          `json:"totalPnL"`
	PortfolioValue float64          `json:"portfolioValue"`
	TotalInvested  float64          `json:"totalInvested"`
	PnLPercentage  float64          `json:"pnlPercentage"`
	MarginUsed     float64          `json:"marginUsed"`
	Daily          []DailySummary   `json:"daily"`
}

// BuildPortfolio computes totals from holdings and transactions. Money is
// summed in decimal and rounded to cents.
func BuildPortfolio(balance float64, holdings []models.Holding, transactions []models.Transaction, prices map[string]float64, loc *time.Location) PortfolioSummary {
	if loc == nil {
		loc = time.Local
	}
	summary := PortfolioSummary{
		OpenHoldings:   []models.Holding{},
		ClosedHoldings: []models.Holding{},
		Daily:          []DailySummary{},
	}

	unrealized, realized, value, margin := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, h := range holdings {
		if h.IsOpen() {
			summary.OpenHoldings = append(summary.OpenHoldings, h)
			unrealized = unrealized.Add(decimal.NewFromFloat(h.UnrealizedPnL))
			margin = margin.Add(decimal.NewFromFloat(h.MarginUsed))
			price, ok := prices[h.StockID]
			if !ok {
				price = h.AverageEntryPrice
			}
			value = value.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(h.Quantity))))
			continue
		}
		summary.ClosedHoldings = append(summary.ClosedHoldings, h)
		realized = realized.Add(decimal.NewFromFloat(h.RealizedPnL))
	}

	total := unrealized.Add(realized)
	invested := value.Sub(unrealized)
	summary.Balance = cents(decimal.NewFromFloat(balance))
	summary.UnrealizedPnL = cents(unrealized)
	summary.RealizedPnL = cents(realized)
	summary.TotalPnL = cents(total)
	summary.PortfolioValue = cents(value)
	summary.TotalInvested = cents(invested)
	summary.MarginUsed = cents(margin)
	if invested.IsPositive() {
		summary.PnLPercentage = cents(total.Div(invested).Mul(decimal.NewFromInt(100)))
	}
	summary.Daily = dailySummaries(transactions, loc)
	return summary
}

func dailySummaries(transactions []models.Transaction, loc *time.Location) []DailySummary {
	type acc struct {
		count        int
		bought, sold decimal.Decimal
	}
	days := make(map[string]*acc)
	for _, tx := range transactions {
		date := time.UnixMilli(tx.Timestamp).In(loc).Format("2006-01-02")
		a, ok := days[date]
		if !ok {
			a = &acc{bought: decimal.Zero, sold: decimal.Zero}
			days[date] = a
		}
		a.count++
		if tx.Type == models.SideSell {
			a.sold = a.sold.Add(decimal.NewFromFloat(tx.Total))
		} else {
			a.bought = a.bought.Add(decimal.NewFromFloat(tx.Total))
		}
	}

	out := make([]DailySummary, 0, len(days))
	for date, a := range days {
		out = append(out, DailySummary{
			Date:         date,
			Transactions: a.count,
			Bought:       cents(a.bought),
			Sold:         cents(a.sold),
			NetCashFlow:  cents(a.sold.Sub(a.bought)),
		})
	}
	// Newest day first, as the portfolio page lists them.
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

func cents(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// Page returns the 1-based page of items with the given size, plus the
// total page count.
func Page[T any](items []T, page, limit int) ([]T, int) {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := (len(items) + limit - 1) / limit
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}, totalPages
	}
	end := min(start+limit, len(items))
	return items[start:end], totalPages
}
