package dashboard

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/sheets"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buy(date, name, account, qty, price string) domain.Trade {
	q, p := dec(qty), dec(price)
	return domain.Trade{
		Date: date, Side: domain.Buy, Name: name, Code: name,
		Quantity: q, Price: p, Amount: q.Mul(p), AmountLocal: q.Mul(p),
		Currency: domain.LocalCurrency, FXRate: decimal.NewFromInt(1),
		Account: account, Kind: domain.Domestic,
	}
}

func sell(date, name, account, qty, price, profit, rate string) domain.Trade {
	t := buy(date, name, account, qty, price)
	t.Side = domain.Sell
	t.Profit = dec(profit)
	t.ProfitLocal = dec(profit)
	t.ProfitRate = dec(rate)
	return t
}

func TestCompute_SingleRoundTrip(t *testing.T) {
	trades := []domain.Trade{
		buy("2024-03-01", "삼성전자", "acct", "10", "100"),
		sell("2024-03-20", "삼성전자", "acct", "10", "120", "200", "20"),
	}
	r := Compute(trades, nil)

	assert.True(t, r.Totals.BuyAmount.Equal(dec("1000")))
	assert.True(t, r.Totals.SellAmount.Equal(dec("1200")))
	assert.True(t, r.Totals.Profit.Equal(dec("200")))
	assert.True(t, r.Totals.Return.Round(4).Equal(dec("0.1667")), "got %s", r.Totals.Return)
	assert.True(t, r.Totals.WinRate.Equal(dec("1")))
	assert.Equal(t, 2, r.Totals.Count)

	require.Len(t, r.Months, 1)
	assert.Equal(t, "2024-03", r.Months[0].Month)
	assert.Equal(t, 1, r.Months[0].BuyCount)
	assert.Equal(t, 1, r.Months[0].SellCount)

	require.Len(t, r.Stocks, 1)
	s := r.Stocks[0]
	assert.True(t, s.BuyQty.Equal(dec("10")))
	assert.True(t, s.SellQty.Equal(dec("10")))
	assert.True(t, s.Weight.Equal(dec("1")))

	require.Len(t, r.Metrics.Categories, 1)
	assert.Equal(t, string(domain.CategoryUnclassified), r.Metrics.Categories[0].Key)
	assert.True(t, r.Metrics.AvgProfit.Equal(dec("0.2")))
	assert.True(t, r.Metrics.AvgLoss.IsZero())
	assert.True(t, r.Metrics.PLRatio.IsZero(), "no losses means no ratio")
	require.NotNil(t, r.Metrics.Best)
	assert.Equal(t, "삼성전자", r.Metrics.Best.Name)
}

func TestCompute_Empty(t *testing.T) {
	r := Compute(nil, nil)
	assert.True(t, r.Totals.Return.IsZero())
	assert.True(t, r.Totals.WinRate.IsZero())
	assert.Empty(t, r.Months)
	assert.Empty(t, r.Stocks)
	assert.Nil(t, r.Metrics.Best)
	assert.True(t, r.Metrics.Concentration.IsZero())
}

func TestCompute_Breakdowns(t *testing.T) {
	trades := []domain.Trade{
		buy("2024-01-05", "A", "k_국내", "1", "600"),
		buy("2024-01-06", "B", "k_국내", "1", "100"),
		buy("2024-02-01", "C", "m_국내", "1", "100"),
		buy("2024-02-02", "D", "m_국내", "1", "100"),
		buy("2024-02-03", "E", "m_국내", "1", "50"),
		buy("2024-02-04", "F", "m_국내", "1", "50"),
		sell("2024-02-10", "A", "k_국내", "1", "700", "100", "16.67"),
		sell("2024-02-11", "B", "k_국내", "1", "50", "-50", "-50"),
		sell("2024-02-12", "C", "m_국내", "1", "90", "-10", "-10"),
	}
	categories := map[string]domain.Category{"A": domain.CategoryIT, "B": domain.CategoryIT, "C": domain.CategoryFinancials}
	r := Compute(trades, categories)

	assert.True(t, r.Totals.BuyAmount.Equal(dec("1000")))
	assert.True(t, r.Totals.WinRate.Round(4).Equal(dec("0.3333")))

	require.Len(t, r.Months, 3)
	assert.Equal(t, "2024-01", r.Months[0].Month)
	assert.Equal(t, "2024-02", r.Months[1].Month)
	assert.Equal(t, "k_국내", r.Months[1].Account)
	assert.Equal(t, 2, r.Months[1].SellCount)
	assert.True(t, r.Months[1].Profit.Equal(dec("50")))
	assert.Equal(t, "m_국내", r.Months[2].Account)

	// top five by buy amount: 600+100+100+100+50 of 1000
	assert.True(t, r.Metrics.Concentration.Equal(dec("0.95")), "got %s", r.Metrics.Concentration)

	require.Len(t, r.Metrics.Accounts, 2)
	assert.Equal(t, "k_국내", r.Metrics.Accounts[0].Key)
	assert.True(t, r.Metrics.Accounts[0].Ratio.Equal(dec("0.7")))

	cats := map[string]decimal.Decimal{}
	for _, s := range r.Metrics.Categories {
		cats[s.Key] = s.Ratio
	}
	assert.True(t, cats["IT"].Equal(dec("0.7")))
	assert.True(t, cats["금융"].Equal(dec("0.1")))
	assert.True(t, cats[string(domain.CategoryUnclassified)].Equal(dec("0.2")))

	assert.True(t, r.Metrics.AvgProfit.Equal(dec("0.1667")))
	assert.True(t, r.Metrics.AvgLoss.Equal(dec("-0.3")))
	assert.True(t, r.Metrics.PLRatio.Equal(dec("0.56")), "got %s", r.Metrics.PLRatio)

	assert.Equal(t, "A", r.Metrics.Best.Name)
	assert.Equal(t, "B", r.Metrics.Worst.Name)
	assert.True(t, r.Metrics.Worst.Profit.Equal(dec("-50")))
}

func TestCompute_OrderIndependent(t *testing.T) {
	trades := []domain.Trade{
		buy("2024-01-05", "A", "k", "1", "600"),
		sell("2024-02-10", "A", "k", "1", "700", "100", "16.67"),
		buy("2024-01-06", "B", "j", "2", "100"),
	}
	reversed := []domain.Trade{trades[2], trades[1], trades[0]}
	assert.Equal(t, Render(Compute(trades, nil)), Render(Compute(reversed, nil)))
}

func TestRender_Layout(t *testing.T) {
	r := Compute([]domain.Trade{
		buy("2024-03-01", "삼성전자", "acct", "10", "100"),
		sell("2024-03-20", "삼성전자", "acct", "10", "120", "200", "20"),
	}, nil)
	l := Render(r)

	assert.Equal(t, "지표", l.Rows[0][0])
	assert.Equal(t, "값", l.Rows[1][0])
	assert.Equal(t, []interface{}{""}, l.Rows[2])
	assert.Equal(t, "연월", l.Rows[3][0])
	assert.Equal(t, "2024-03", l.Rows[4][0])
	assert.Equal(t, []interface{}{""}, l.Rows[5])
	assert.Equal(t, "종목명", l.Rows[6][0])
	assert.Equal(t, "삼성전자", l.Rows[7][0])
	assert.Equal(t, []interface{}{""}, l.Rows[8])
	assert.Equal(t, "[투자 지표]", l.Rows[9][0])

	last := l.Rows[len(l.Rows)-1]
	assert.Equal(t, "최대 손실 종목", last[0])
	assert.Equal(t, "삼성전자 (+200원)", last[1])
	best := l.Rows[len(l.Rows)-2]
	assert.Equal(t, "삼성전자 (+200원)", best[1])

	require.NotEmpty(t, l.Spans)
	assert.Equal(t, sheets.RowRange{Start: 1, End: 2}, l.Spans[0].Rows)
	assert.Equal(t, sheets.RowRange{Start: 4, End: 5}, l.Spans[1].Rows)
	assert.Equal(t, sheets.RowRange{Start: 7, End: 8}, l.Spans[2].Rows)
}

func seedLedger(t *testing.T, store *sheets.Memory, name string, kind domain.Kind, trades ...domain.Trade) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateSheet(ctx, name))
	header := make([]interface{}, 0, kind.Columns())
	for _, h := range kind.Header() {
		header = append(header, h)
	}
	rows := [][]interface{}{header}
	for _, tr := range trades {
		rows = append(rows, tr.Row())
	}
	require.NoError(t, store.Write(ctx, name, "A1", rows))
}

func TestLoader_Load(t *testing.T) {
	store := sheets.NewMemory()
	ctx := context.Background()
	seedLedger(t, store, "acct_국내", domain.Domestic,
		buy("2024-03-01", "삼성전자", "x", "10", "100"),
		sell("2024-03-20", "삼성전자", "x", "10", "120", "200", "14.68"),
	)
	require.NoError(t, store.CreateSheet(ctx, SheetName))
	require.NoError(t, store.Write(ctx, SheetName, "A1", [][]interface{}{summaryHeader}))
	require.NoError(t, store.CreateSheet(ctx, "메모"))
	require.NoError(t, store.Write(ctx, "메모", "A1", [][]interface{}{{"todo"}}))

	snap, err := NewLoader(store, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct_국내"}, snap.Readable)
	assert.ElementsMatch(t, []string{SheetName, "메모"}, snap.Ignored)
	assert.Empty(t, snap.Failed)
	assert.True(t, snap.Majority())

	require.Len(t, snap.Trades, 2)
	s := snap.Trades[1]
	assert.Equal(t, "acct_국내", s.Account)
	assert.True(t, s.ProfitRate.Equal(dec("14.68")), "percent decoded, got %s", s.ProfitRate)
	assert.True(t, s.ProfitLocal.Equal(dec("200")))
}

func TestLoader_FailedSheets(t *testing.T) {
	store := sheets.NewMemory()
	seedLedger(t, store, "a_국내", domain.Domestic)
	seedLedger(t, store, "b_국내", domain.Domestic)
	seedLedger(t, store, "c_국내", domain.Domestic)
	store.Fail = func(op, name string) error {
		if op == "read" && name != "a_국내" {
			return errors.New("unavailable")
		}
		return nil
	}

	snap, err := NewLoader(store, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a_국내"}, snap.Readable)
	assert.Len(t, snap.Failed, 2)
	assert.False(t, snap.Majority())
}

func TestSnapshot_Majority(t *testing.T) {
	tests := []struct {
		readable, failed int
		want             bool
	}{
		{0, 0, true},
		{1, 0, true},
		{2, 1, true},
		{1, 1, false},
		{0, 1, false},
		{2, 2, false},
		{3, 2, true},
	}
	for _, tt := range tests {
		s := &Snapshot{
			Readable: make([]string, tt.readable),
			Failed:   make([]string, tt.failed),
		}
		assert.Equal(t, tt.want, s.Majority(), "readable=%d failed=%d", tt.readable, tt.failed)
	}
}

func TestWriter_Write(t *testing.T) {
	store := sheets.NewMemory()
	ctx := context.Background()
	r := Compute([]domain.Trade{
		buy("2024-03-01", "삼성전자", "acct", "10", "100"),
		sell("2024-03-20", "삼성전자", "acct", "10", "120", "200", "20"),
	}, nil)
	w := NewWriter(store, nil, false)

	require.NoError(t, w.Write(ctx, r))
	first := store.Rows(SheetName)
	assert.Equal(t, 1, store.FrozenRows(SheetName))

	// a second write replaces the sheet instead of appending
	require.NoError(t, w.Write(ctx, r))
	assert.Equal(t, first, store.Rows(SheetName))

	display, err := store.Read(ctx, SheetName, "A2:G2", sheets.RenderDisplay)
	require.NoError(t, err)
	assert.Equal(t, "1,000", display[0][1])
	assert.Equal(t, "16.67%", display[0][4])
	assert.Equal(t, "100.00%", display[0][6])
}

func TestWriter_DryRun(t *testing.T) {
	store := sheets.NewMemory()
	require.NoError(t, NewWriter(store, nil, true).Write(context.Background(), Compute(nil, nil)))
	assert.Zero(t, store.Writes())
}
