// Package ofx provides OFX/QFX investment statement parsing for tradesync
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/parser"
	"github.com/rumor-ml/commons.systems/tradesync/internal/tabular"
)

// Parser turns BUYSTOCK and SELLSTOCK records of an OFX investment statement
// into trades. It is stateless and safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx-investment"
}

// CanParse accepts the single-cell header tabular produces for OFX documents.
// Both v1 SGML and v2 XML markers are recognised.
func (p *Parser) CanParse(header []string) bool {
	if len(header) != 1 {
		return false
	}
	h := strings.ToUpper(header[0])
	return strings.HasPrefix(h, "OFXHEADER") ||
		(strings.HasPrefix(h, "<?XML") && strings.Contains(h, "OFX")) ||
		strings.HasPrefix(h, "<?OFX") ||
		strings.HasPrefix(h, "<OFX>")
}

// Parse extracts security trades from the statement.
// Cash movements (INVBANKTRAN) and income records are ignored.
func (p *Parser) Parse(ctx context.Context, t *tabular.Table, meta *parser.Metadata) (*parser.Result, error) {
	if t == nil || meta == nil {
		return nil, fmt.Errorf("ofx-investment: table and metadata are required")
	}

	// ofxgo.ParseResponse does not take a context; this only catches
	// cancellation before parsing starts.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	resp, err := ofxgo.ParseResponse(bytes.NewReader(t.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file%s (%d bytes): %w", parser.FileInfo(meta), len(t.Raw), err)
	}
	if len(resp.InvStmt) == 0 {
		return nil, fmt.Errorf("no investment statement (INVSTMTMSGSRSV1) found%s", parser.FileInfo(meta))
	}
	stmt, ok := resp.InvStmt[0].(*ofxgo.InvStatementResponse)
	if !ok {
		return nil, fmt.Errorf("failed to type assert investment statement: expected *ofxgo.InvStatementResponse, got %T", resp.InvStmt[0])
	}
	if stmt.InvTranList == nil {
		return nil, fmt.Errorf("missing transaction list in investment statement%s", parser.FileInfo(meta))
	}

	currency := strings.ToUpper(stmt.CurDef.String())
	if !domain.KnownCurrency(currency) {
		return nil, fmt.Errorf("unknown statement currency %q%s", currency, parser.FileInfo(meta))
	}

	secs := securities(resp)
	res := &parser.Result{}
	account := meta.Label()

	for i, txn := range stmt.InvTranList.InvTransactions {
		var (
			tr  domain.Trade
			err error
		)
		switch v := txn.(type) {
		case ofxgo.BuyStock:
			tr, err = buyTrade(v.InvBuy, secs)
		case ofxgo.SellStock:
			tr, err = sellTrade(v.InvSell, secs)
		default:
			continue
		}
		// records are numbered from 1 in statement order
		if err != nil {
			res.Reject(i+1, err)
			continue
		}
		tr.Currency = currency
		tr.Account = account
		if currency == domain.LocalCurrency {
			tr.Kind = domain.Domestic
			tr.FXRate = decimal.NewFromInt(1)
			tr.AmountLocal = tr.Amount
			tr.ProfitLocal = tr.Profit
		} else {
			tr.Kind = domain.Foreign
		}
		res.Add(tr)
	}
	return res, nil
}

type security struct {
	name   string
	ticker string
}

// securities indexes the SECLIST by unique id.
func securities(resp *ofxgo.Response) map[string]security {
	out := make(map[string]security)
	for _, msg := range resp.SecList {
		list, ok := msg.(*ofxgo.SecurityList)
		if !ok {
			continue
		}
		for _, s := range list.Securities {
			stock, ok := s.(ofxgo.StockInfo)
			if !ok {
				continue
			}
			info := stock.SecInfo
			out[info.SecID.UniqueID.String()] = security{
				name:   info.SecName.String(),
				ticker: info.Ticker.String(),
			}
		}
	}
	return out
}

func instrument(id ofxgo.SecurityID, secs map[string]security) (name, code string) {
	uid := id.UniqueID.String()
	sec, ok := secs[uid]
	code = uid
	if ok && sec.ticker != "" {
		code = sec.ticker
	}
	name = code
	if ok && sec.name != "" {
		name = sec.name
	}
	return name, code
}

func buyTrade(b ofxgo.InvBuy, secs map[string]security) (domain.Trade, error) {
	date, qty, err := leg(b.InvTran, b.Units)
	if err != nil {
		return domain.Trade{}, err
	}
	name, code := instrument(b.SecID, secs)
	price := amount(b.UnitPrice).Abs()
	return domain.Trade{
		Date:     date,
		Side:     domain.Buy,
		Name:     name,
		Code:     code,
		Quantity: qty,
		Price:    price,
		Amount:   qty.Mul(price),
		Fee:      amount(b.Commission).Add(amount(b.Fees)).Abs(),
		Tax:      amount(b.Taxes).Abs(),
	}, nil
}

func sellTrade(s ofxgo.InvSell, secs map[string]security) (domain.Trade, error) {
	date, qty, err := leg(s.InvTran, s.Units)
	if err != nil {
		return domain.Trade{}, err
	}
	name, code := instrument(s.SecID, secs)
	price := amount(s.UnitPrice).Abs()
	gross := qty.Mul(price)
	gain := amount(s.Gain)

	tr := domain.Trade{
		Date:     date,
		Side:     domain.Sell,
		Name:     name,
		Code:     code,
		Quantity: qty,
		Price:    price,
		Amount:   gross,
		Fee:      amount(s.Commission).Add(amount(s.Fees)).Abs(),
		Tax:      amount(s.Taxes).Abs(),
		Profit:   gain,
	}
	// cost basis is proceeds minus gain
	if basis := gross.Sub(gain); basis.IsPositive() {
		tr.ProfitRate = gain.Div(basis).Shift(2).Round(2)
	}
	return tr, nil
}

func leg(tran ofxgo.InvTran, units ofxgo.Amount) (string, decimal.Decimal, error) {
	if tran.DtTrade.Time.IsZero() {
		return "", decimal.Zero, fmt.Errorf("transaction %s has no trade date", tran.FiTID.String())
	}
	// sells report negative units
	qty := amount(units).Abs()
	if !qty.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("transaction %s has no units", tran.FiTID.String())
	}
	return tran.DtTrade.Time.Format(domain.DateLayout), qty, nil
}

func amount(a ofxgo.Amount) decimal.Decimal {
	d, err := decimal.NewFromString(a.FloatString(8))
	if err != nil {
		return decimal.Zero
	}
	return d
}
