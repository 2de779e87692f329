package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DomesticHeader is the header row of a domestic destination.
var DomesticHeader = []string{
	"일자", "구분", "종목명", "수량", "단가", "금액", "수수료", "손익금액", "수익률(%)",
}

// ForeignHeader is the header row of a foreign destination.
var ForeignHeader = []string{
	"일자", "구분", "통화", "종목코드", "종목명", "수량", "단가", "금액(외화)",
	"환율", "금액(원화)", "수수료", "세금", "손익(외화)", "손익(원화)", "수익률(%)",
}

// Header returns the header row for the kind.
func (k Kind) Header() []string {
	if k == Foreign {
		return ForeignHeader
	}
	return DomesticHeader
}

// Columns is the width of a destination row of this kind.
func (k Kind) Columns() int {
	return len(k.Header())
}

// DestinationName derives the sheet name for an account label. A label that
// already carries the kind's designator is used as-is.
func DestinationName(label string, kind Kind) string {
	if strings.Contains(label, kind.Designator()) {
		return label
	}
	return label + "_" + kind.Designator()
}

// MatchHeader identifies which destination shape a header row has.
// Trailing empty cells are ignored; anything else must match exactly.
func MatchHeader(row []string) (Kind, bool) {
	cells := make([]string, 0, len(row))
	for _, c := range row {
		cells = append(cells, strings.TrimSpace(c))
	}
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	switch {
	case equalRow(cells, DomesticHeader):
		return Domestic, true
	case equalRow(cells, ForeignHeader):
		return Foreign, true
	}
	return Domestic, false
}

func equalRow(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Row serializes t into destination cell values. Numbers are float64 so the
// store keeps them numeric; the profit rate is encoded as a fraction.
func (t Trade) Row() []interface{} {
	rate := EncodePercent(t.ProfitRate).InexactFloat64()
	if t.Kind == Foreign {
		return []interface{}{
			t.Date, string(t.Side), t.Currency, t.Code, t.Name,
			t.Quantity.InexactFloat64(), t.Price.InexactFloat64(), t.Amount.InexactFloat64(),
			t.FXRate.InexactFloat64(), t.AmountLocal.InexactFloat64(),
			t.Fee.InexactFloat64(), t.Tax.InexactFloat64(),
			t.Profit.InexactFloat64(), t.ProfitLocal.InexactFloat64(),
			rate,
		}
	}
	return []interface{}{
		t.Date, string(t.Side), t.Name,
		t.Quantity.InexactFloat64(), t.Price.InexactFloat64(), t.Amount.InexactFloat64(),
		t.Fee.InexactFloat64(), t.Profit.InexactFloat64(),
		rate,
	}
}

// FromRow reconstructs a trade from a destination row read back in raw mode.
// Missing trailing cells read as zero. Domestic rows get the local currency,
// an FX rate of 1 and local amounts equal to the trade-currency amounts.
func FromRow(kind Kind, row []interface{}, account string) (Trade, error) {
	cell := func(i int) interface{} {
		if i < len(row) {
			return row[i]
		}
		return nil
	}
	num := func(i int) (decimal.Decimal, error) {
		d, err := CellDecimal(cell(i))
		if err != nil {
			return decimal.Zero, fmt.Errorf("column %d: %w", i+1, err)
		}
		return d, nil
	}

	t := Trade{Account: account, Kind: kind}
	var err error
	if kind == Foreign {
		t.Date = CellString(cell(0))
		t.Side = Side(CellString(cell(1)))
		t.Currency = CellString(cell(2))
		t.Code = CellString(cell(3))
		t.Name = CellString(cell(4))
		targets := []*decimal.Decimal{
			&t.Quantity, &t.Price, &t.Amount, &t.FXRate, &t.AmountLocal,
			&t.Fee, &t.Tax, &t.Profit, &t.ProfitLocal, &t.ProfitRate,
		}
		for i, p := range targets {
			if *p, err = num(5 + i); err != nil {
				return Trade{}, err
			}
		}
	} else {
		t.Date = CellString(cell(0))
		t.Side = Side(CellString(cell(1)))
		t.Name = CellString(cell(2))
		targets := []*decimal.Decimal{
			&t.Quantity, &t.Price, &t.Amount, &t.Fee, &t.Profit, &t.ProfitRate,
		}
		for i, p := range targets {
			if *p, err = num(3 + i); err != nil {
				return Trade{}, err
			}
		}
		t.Currency = LocalCurrency
		t.FXRate = decimal.NewFromInt(1)
		t.AmountLocal = t.Amount
		t.ProfitLocal = t.Profit
	}
	t.ProfitRate = DecodePercent(t.ProfitRate)
	return t, nil
}

// identityColumns are the 0-based cells holding date, side, name, quantity
// and price.
var identityColumns = map[Kind][5]int{
	Domestic: {0, 1, 2, 3, 4},
	Foreign:  {0, 1, 4, 5, 6},
}

// IdentityFromRow builds the identity of a stored row from its identity cells
// alone, so an unparseable fee or rate does not hide the row from duplicate
// detection.
func IdentityFromRow(kind Kind, row []interface{}) (Identity, error) {
	cols := identityColumns[kind]
	cell := func(i int) interface{} {
		if i < len(row) {
			return row[i]
		}
		return nil
	}
	qty, err := CellDecimal(cell(cols[3]))
	if err != nil {
		return Identity{}, fmt.Errorf("column %d: %w", cols[3]+1, err)
	}
	price, err := CellDecimal(cell(cols[4]))
	if err != nil {
		return Identity{}, fmt.Errorf("column %d: %w", cols[4]+1, err)
	}
	return Identity{
		Date:     CellString(cell(cols[0])),
		Side:     CellString(cell(cols[1])),
		Name:     CellString(cell(cols[2])),
		Quantity: CanonicalNumber(qty),
		Price:    CanonicalNumber(price),
	}, nil
}

// CellString renders a raw cell value as text.
func CellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return decimal.NewFromFloat(x).String()
	case json.Number:
		return x.String()
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// CellDecimal converts a raw cell value to a decimal. Empty cells are zero.
// Strings may carry thousands separators; anything else non-numeric is an error.
func CellDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case bool:
		return decimal.Zero, fmt.Errorf("unexpected boolean cell %v", x)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return decimal.Zero, nil
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", x)
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, fmt.Errorf("unsupported cell type %T", v)
	}
}
