// Package hankook parses 한국투자증권 domestic realized-trade exports.
package hankook

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/parser"
	"github.com/rumor-ml/commons.systems/tradesync/internal/tabular"
)

const minColumns = 17

// Parser reads the "매매일자/종목코드/매입단가" layout. Every data row may hold
// a buy leg and a sell leg; a leg is only emitted when both its quantity and
// its amount are positive.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared parser instance.
func NewParser() *Parser {
	return parserInstance
}

func (p *Parser) Name() string {
	return "hankook-domestic"
}

func (p *Parser) CanParse(header []string) bool {
	return parser.HasAll(header, "매매일자", "종목코드", "매입단가") &&
		!parser.HasAny(header, "통화", "기간 중 매수")
}

func (p *Parser) Parse(ctx context.Context, t *tabular.Table, meta *parser.Metadata) (*parser.Result, error) {
	if t == nil || meta == nil {
		return nil, fmt.Errorf("hankook-domestic: table and metadata are required")
	}
	account := meta.Label()
	res := &parser.Result{}

	for i, row := range t.Rows {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		line := i + 2

		if parser.Blank(row) || parser.Cell(row, 1) == "" {
			continue
		}
		if len(row) < minColumns {
			res.Reject(line, fmt.Errorf("expected at least %d columns, got %d", minColumns, len(row)))
			continue
		}
		date, err := parser.NormalizeDate(parser.Cell(row, 0))
		if err != nil {
			res.Reject(line, err)
			continue
		}
		// 6 매입단가, 7 매수수량, 8 매도단가, 9 매도수량, 10 매수금액, 11 매도금액,
		// 12 실현손익, 13 수익률, 14 수수료, 16 세금
		n, err := parser.Numbers(row, 6, 7, 8, 9, 10, 11, 12, 13, 14, 16)
		if err != nil {
			res.Reject(line, err)
			continue
		}
		buyPrice, buyQty, sellPrice, sellQty := n[0], n[1], n[2], n[3]
		buyAmount, sellAmount := n[4], n[5]
		profit, rate, commission, tax := n[6], n[7], n[8], n[9]

		base := domain.Trade{
			Date:     date,
			Name:     parser.Cell(row, 1),
			Code:     parser.Cell(row, 2),
			Currency: domain.LocalCurrency,
			FXRate:   decimal.NewFromInt(1),
			Account:  account,
			Kind:     domain.Domestic,
		}
		if buyQty.IsPositive() && buyAmount.IsPositive() {
			tr := base
			tr.Side = domain.Buy
			tr.Quantity = buyQty
			tr.Price = buyPrice
			tr.Amount = buyAmount
			tr.AmountLocal = buyAmount
			res.Add(tr)
		}
		if sellQty.IsPositive() && sellAmount.IsPositive() {
			tr := base
			tr.Side = domain.Sell
			tr.Quantity = sellQty
			tr.Price = sellPrice
			tr.Amount = sellAmount
			tr.AmountLocal = sellAmount
			// the domestic sheet has a single cost column
			tr.Fee = commission.Add(tax)
			tr.Profit = profit
			tr.ProfitLocal = profit
			tr.ProfitRate = rate
			res.Add(tr)
		}
	}
	return res, nil
}
