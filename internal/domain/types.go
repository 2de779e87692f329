// Package domain defines the canonical trade record shared by every parser, the
// duplicate filter, the sheet writer and the dashboard.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// LocalCurrency is the currency every local-amount column is denominated in.
const LocalCurrency = "KRW"

// DateLayout is the canonical trade date layout.
const DateLayout = "2006-01-02"

// ErrInvalidTrade is wrapped by every Validate failure.
var ErrInvalidTrade = errors.New("invalid trade")

// Side is the direction of one executed trade leg.
// The values are the display labels written to the destination sheet.
type Side string

const (
	Buy  Side = "매수"
	Sell Side = "매도"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Kind selects the destination header shape.
type Kind int

const (
	Domestic Kind = iota
	Foreign
)

func (k Kind) String() string {
	if k == Foreign {
		return "foreign"
	}
	return "domestic"
}

// Designator is the marker used in destination names ("국내" / "해외").
func (k Kind) Designator() string {
	if k == Foreign {
		return "해외"
	}
	return "국내"
}

// Trade is one executed buy or sell leg. Records are never netted: a source row
// that reports both a buy and a sell produces two Trades.
//
// Profit and ProfitLocal are zero on buy legs. ProfitRate is a percentage
// (14.68 means 14.68%); it is stored as a fraction only inside the sheet.
type Trade struct {
	Date        string
	Side        Side
	Name        string
	Code        string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Currency    string
	FXRate      decimal.Decimal
	AmountLocal decimal.Decimal
	Fee         decimal.Decimal
	Tax         decimal.Decimal
	Profit      decimal.Decimal
	ProfitLocal decimal.Decimal
	ProfitRate  decimal.Decimal
	Account     string
	Kind        Kind
}

// Identity is the duplicate-detection key. All parts are canonical strings so
// the value is comparable and usable as a map key.
type Identity struct {
	Date     string
	Side     string
	Name     string
	Quantity string
	Price    string
}

func (id Identity) String() string {
	return strings.Join([]string{id.Date, id.Side, id.Name, id.Quantity, id.Price}, "|")
}

// Identity returns the key used to detect already-persisted trades.
func (t Trade) Identity() Identity {
	return Identity{
		Date:     t.Date,
		Side:     string(t.Side),
		Name:     t.Name,
		Quantity: CanonicalNumber(t.Quantity),
		Price:    CanonicalNumber(t.Price),
	}
}

// CanonicalNumber renders d without trailing fractional zeros, so 100.0 and
// 100 both become "100" and 150.50 becomes "150.5".
func CanonicalNumber(d decimal.Decimal) string {
	return d.String()
}

// EncodePercent converts a percentage to the fraction stored in the sheet.
// EncodePercent(14.68) == 0.1468.
func EncodePercent(pct decimal.Decimal) decimal.Decimal {
	return pct.Shift(-2)
}

// DecodePercent is the inverse of EncodePercent.
func DecodePercent(frac decimal.Decimal) decimal.Decimal {
	return frac.Shift(2)
}

// KnownCurrency reports whether code is an ISO currency known to go-money.
func KnownCurrency(code string) bool {
	if code == "" {
		return false
	}
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// Validate checks the record invariants. The returned error wraps ErrInvalidTrade.
func (t Trade) Validate() error {
	if _, err := time.Parse(DateLayout, t.Date); err != nil {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidTrade, t.Date)
	}
	if !t.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTrade, t.Side)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: instrument name is empty", ErrInvalidTrade)
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidTrade, t.Quantity)
	}
	for field, v := range map[string]decimal.Decimal{
		"price":  t.Price,
		"amount": t.Amount,
		"fee":    t.Fee,
		"tax":    t.Tax,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative, got %s", ErrInvalidTrade, field, v)
		}
	}
	if t.Side == Buy && (!t.Profit.IsZero() || !t.ProfitLocal.IsZero()) {
		return fmt.Errorf("%w: buy leg carries realized profit", ErrInvalidTrade)
	}
	if !KnownCurrency(t.Currency) {
		return fmt.Errorf("%w: unknown currency %q", ErrInvalidTrade, t.Currency)
	}
	if t.Account == "" {
		return fmt.Errorf("%w: account label is empty", ErrInvalidTrade)
	}
	return nil
}

// Month returns the YYYY-MM part of the trade date.
func (t Trade) Month() string {
	if len(t.Date) < 7 {
		return t.Date
	}
	return t.Date[:7]
}
