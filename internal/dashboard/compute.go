// Package dashboard recomputes the "대시보드" sheet from every trade stored in
// the ledger sheets. Nothing is carried over between runs: each run reads the
// full persisted state, computes a Report and overwrites the sheet.
package dashboard

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
)

// topN is the number of instruments in the concentration metric.
const topN = 5

// Totals are the portfolio-wide figures. Amounts are in the local currency and
// ratios are fractions (0.1667, not 16.67).
type Totals struct {
	BuyAmount  decimal.Decimal
	SellAmount decimal.Decimal
	Profit     decimal.Decimal
	Return     decimal.Decimal
	Count      int
	WinRate    decimal.Decimal
}

// MonthRow aggregates one (month, account) pair.
type MonthRow struct {
	Month      string
	Account    string
	BuyCount   int
	BuyAmount  decimal.Decimal
	SellCount  int
	SellAmount decimal.Decimal
	Profit     decimal.Decimal
	Return     decimal.Decimal
}

// StockRow aggregates one (name, code, account, currency) instrument.
type StockRow struct {
	Name       string
	Code       string
	Account    string
	Currency   string
	BuyQty     decimal.Decimal
	BuyAmount  decimal.Decimal
	SellQty    decimal.Decimal
	SellAmount decimal.Decimal
	Profit     decimal.Decimal
	Return     decimal.Decimal
	Weight     decimal.Decimal
	sold       bool
}

// Share is one bucket's part of the total buy amount.
type Share struct {
	Key   string
	Ratio decimal.Decimal
}

// Extreme names an instrument and its realized P/L.
type Extreme struct {
	Name   string
	Profit decimal.Decimal
}

// Metrics are the "[투자 지표]" figures.
type Metrics struct {
	Accounts      []Share
	Currencies    []Share
	Categories    []Share
	Concentration decimal.Decimal
	AvgProfit     decimal.Decimal
	AvgLoss       decimal.Decimal
	PLRatio       decimal.Decimal
	Best          *Extreme
	Worst         *Extreme
}

// Report is everything the dashboard shows.
type Report struct {
	Totals  Totals
	Months  []MonthRow
	Stocks  []StockRow
	Metrics Metrics
}

func ratio(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// Compute derives the report from the full trade set. categories maps an
// instrument name to its category; missing names fall into
// domain.CategoryUnclassified.
// Compute is pure and does not depend on the order of trades.
func Compute(trades []domain.Trade, categories map[string]domain.Category) *Report {
	r := &Report{}

	var sells, wins int
	for _, t := range trades {
		switch t.Side {
		case domain.Buy:
			r.Totals.BuyAmount = r.Totals.BuyAmount.Add(t.AmountLocal)
		case domain.Sell:
			sells++
			r.Totals.SellAmount = r.Totals.SellAmount.Add(t.AmountLocal)
			r.Totals.Profit = r.Totals.Profit.Add(t.ProfitLocal)
			if t.ProfitLocal.IsPositive() {
				wins++
			}
		}
	}
	r.Totals.Count = len(trades)
	r.Totals.Return = ratio(r.Totals.Profit, r.Totals.SellAmount)
	if sells > 0 {
		r.Totals.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(sells)))
	}

	r.Months = months(trades)
	r.Stocks = stocks(trades, r.Totals.BuyAmount)
	r.Metrics = metrics(trades, r.Stocks, categories, r.Totals.BuyAmount)
	return r
}

type monthKey struct{ month, account string }

func months(trades []domain.Trade) []MonthRow {
	groups := make(map[monthKey]*MonthRow)
	for _, t := range trades {
		k := monthKey{t.Month(), t.Account}
		g, ok := groups[k]
		if !ok {
			g = &MonthRow{Month: k.month, Account: k.account}
			groups[k] = g
		}
		switch t.Side {
		case domain.Buy:
			g.BuyCount++
			g.BuyAmount = g.BuyAmount.Add(t.AmountLocal)
		case domain.Sell:
			g.SellCount++
			g.SellAmount = g.SellAmount.Add(t.AmountLocal)
			g.Profit = g.Profit.Add(t.ProfitLocal)
		}
	}

	out := make([]MonthRow, 0, len(groups))
	for _, g := range groups {
		g.Return = ratio(g.Profit, g.SellAmount)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].Account < out[j].Account
	})
	return out
}

type stockKey struct{ name, code, account, currency string }

func stocks(trades []domain.Trade, totalBuy decimal.Decimal) []StockRow {
	groups := make(map[stockKey]*StockRow)
	for _, t := range trades {
		k := stockKey{t.Name, t.Code, t.Account, t.Currency}
		g, ok := groups[k]
		if !ok {
			g = &StockRow{Name: k.name, Code: k.code, Account: k.account, Currency: k.currency}
			groups[k] = g
		}
		switch t.Side {
		case domain.Buy:
			g.BuyQty = g.BuyQty.Add(t.Quantity)
			g.BuyAmount = g.BuyAmount.Add(t.AmountLocal)
		case domain.Sell:
			g.sold = true
			g.SellQty = g.SellQty.Add(t.Quantity)
			g.SellAmount = g.SellAmount.Add(t.AmountLocal)
			g.Profit = g.Profit.Add(t.ProfitLocal)
		}
	}

	out := make([]StockRow, 0, len(groups))
	for _, g := range groups {
		g.Return = ratio(g.Profit, g.SellAmount)
		g.Weight = ratio(g.BuyAmount, totalBuy)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Name != b.Name:
			return a.Name < b.Name
		case a.Code != b.Code:
			return a.Code < b.Code
		case a.Account != b.Account:
			return a.Account < b.Account
		}
		return a.Currency < b.Currency
	})
	return out
}

func shares(amounts map[string]decimal.Decimal, total decimal.Decimal) []Share {
	out := make([]Share, 0, len(amounts))
	for k, v := range amounts {
		out = append(out, Share{Key: k, Ratio: ratio(v, total)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func metrics(trades []domain.Trade, groups []StockRow, categories map[string]domain.Category, totalBuy decimal.Decimal) Metrics {
	byAccount := make(map[string]decimal.Decimal)
	byCurrency := make(map[string]decimal.Decimal)
	byCategory := make(map[string]decimal.Decimal)
	byName := make(map[string]decimal.Decimal)

	var gains, losses []decimal.Decimal
	for _, t := range trades {
		if t.Side == domain.Sell {
			switch {
			case t.ProfitRate.IsPositive():
				gains = append(gains, t.ProfitRate)
			case t.ProfitRate.IsNegative():
				losses = append(losses, t.ProfitRate)
			}
			continue
		}
		if t.Side != domain.Buy {
			continue
		}
		byAccount[t.Account] = byAccount[t.Account].Add(t.AmountLocal)
		byCurrency[t.Currency] = byCurrency[t.Currency].Add(t.AmountLocal)
		cat, ok := categories[t.Name]
		if !ok || cat == "" {
			cat = domain.CategoryUnclassified
		}
		byCategory[string(cat)] = byCategory[string(cat)].Add(t.AmountLocal)
		byName[t.Name] = byName[t.Name].Add(t.AmountLocal)
	}

	m := Metrics{
		Accounts:   shares(byAccount, totalBuy),
		Currencies: shares(byCurrency, totalBuy),
		Categories: shares(byCategory, totalBuy),
	}

	amounts := make([]decimal.Decimal, 0, len(byName))
	for _, v := range byName {
		amounts = append(amounts, v)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i].GreaterThan(amounts[j]) })
	if len(amounts) > topN {
		amounts = amounts[:topN]
	}
	m.Concentration = ratio(decimal.Sum(decimal.Zero, amounts...), totalBuy)

	// rates are stored as percentages; the dashboard shows fractions
	m.AvgProfit = mean(gains).Shift(-2)
	m.AvgLoss = mean(losses).Shift(-2)
	if !m.AvgLoss.IsZero() {
		m.PLRatio = m.AvgProfit.Div(m.AvgLoss).Abs().Round(2)
	}

	for _, g := range groups {
		if !g.sold {
			continue
		}
		if m.Best == nil || g.Profit.GreaterThan(m.Best.Profit) {
			m.Best = &Extreme{Name: g.Name, Profit: g.Profit}
		}
		if m.Worst == nil || g.Profit.LessThan(m.Worst.Profit) {
			m.Worst = &Extreme{Name: g.Name, Profit: g.Profit}
		}
	}
	return m
}

func mean(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, xs...).Div(decimal.NewFromInt(int64(len(xs))))
}
