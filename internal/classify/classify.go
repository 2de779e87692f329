// Package classify assigns a category to each traded instrument for the
// dashboard's category breakdown. The oracle is best effort: whatever it
// cannot answer falls back to the keyword rules, and anything left over is
// reported as domain.CategoryUnclassified. Classification never fails a run.
package classify

import (
	"context"
	"log/slog"

	"github.com/rumor-ml/commons.systems/tradesync/internal/cache"
	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/rules"
)

// Instrument identifies what to classify. Name is the lookup key.
type Instrument struct {
	Name     string
	Code     string
	Currency string
}

// Market splits oracle requests; prompts differ per market.
type Market string

const (
	Domestic Market = "한국"
	Foreign  Market = "해외"
)

// MarketOf reports the market an instrument trades in.
func MarketOf(in Instrument) Market {
	if in.Currency == "" || in.Currency == domain.LocalCurrency {
		return Domestic
	}
	return Foreign
}

// Oracle answers a batch of instruments with raw sector labels keyed by
// name. Names missing from the answer are treated as unanswered.
type Oracle interface {
	Classify(ctx context.Context, market Market, instruments []Instrument) (map[string]string, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, market Market, instruments []Instrument) (map[string]string, error)

func (f OracleFunc) Classify(ctx context.Context, market Market, instruments []Instrument) (map[string]string, error) {
	return f(ctx, market, instruments)
}

// Classifier resolves categories in order: cache, oracle, rules.
// Cache, Oracle and Rules are each optional.
type Classifier struct {
	Cache  cache.Store
	Oracle Oracle
	Rules  *rules.Engine
	Logger *slog.Logger
}

// New creates a Classifier. A nil logger falls back to slog.Default.
func New(store cache.Store, oracle Oracle, engine *rules.Engine, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{Cache: store, Oracle: oracle, Rules: engine, Logger: logger}
}

// Instruments lists the distinct instruments in trades, first occurrence wins.
func Instruments(trades []domain.Trade) []Instrument {
	seen := make(map[string]bool)
	var out []Instrument
	for _, t := range trades {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, Instrument{Name: t.Name, Code: t.Code, Currency: t.Currency})
	}
	return out
}

// Classify returns a category for every distinct instrument name.
func (c *Classifier) Classify(ctx context.Context, instruments []Instrument) map[string]domain.Category {
	result := make(map[string]domain.Category, len(instruments))
	var pending []Instrument
	seen := make(map[string]bool)

	for _, in := range instruments {
		if seen[in.Name] {
			continue
		}
		seen[in.Name] = true
		if cat, ok := c.cached(ctx, in.Name); ok {
			result[in.Name] = cat
			continue
		}
		pending = append(pending, in)
	}
	cachedCount := len(result)

	oracleCount := 0
	if c.Oracle != nil && len(pending) > 0 && ctx.Err() == nil {
		answered := c.ask(ctx, pending)
		oracleCount = len(answered)
		for name, cat := range answered {
			result[name] = cat
			if c.Cache != nil {
				if err := c.Cache.Set(ctx, name, cat); err != nil {
					c.Logger.Warn("failed to cache category", "name", name, "error", err)
				}
			}
		}
		if c.Cache != nil && oracleCount > 0 {
			if err := c.Cache.Flush(ctx); err != nil {
				c.Logger.Warn("failed to flush category cache", "error", err)
			}
		}
	}

	ruleCount, unclassified := 0, 0
	for _, in := range pending {
		if _, ok := result[in.Name]; ok {
			continue
		}
		if c.Rules != nil {
			if m, ok := c.Rules.Match(in.Name, in.Code); ok {
				result[in.Name] = m.Category
				ruleCount++
				continue
			}
		}
		result[in.Name] = domain.CategoryUnclassified
		unclassified++
	}

	c.Logger.Info("instruments classified",
		"total", len(result),
		"cached", cachedCount,
		"oracle", oracleCount,
		"rules", ruleCount,
		"unclassified", unclassified,
	)
	return result
}

func (c *Classifier) cached(ctx context.Context, name string) (domain.Category, bool) {
	if c.Cache == nil {
		return "", false
	}
	cat, ok, err := c.Cache.Get(ctx, name)
	if err != nil {
		c.Logger.Warn("category cache lookup failed", "name", name, "error", err)
		return "", false
	}
	if !ok || !domain.ValidateCategory(cat) {
		return "", false
	}
	return cat, true
}

// ask queries the oracle once per market. Unknown sector labels become
// domain.CategoryOther; oracle failures leave the batch unanswered.
func (c *Classifier) ask(ctx context.Context, pending []Instrument) map[string]domain.Category {
	batches := make(map[Market][]Instrument)
	for _, in := range pending {
		m := MarketOf(in)
		batches[m] = append(batches[m], in)
	}

	out := make(map[string]domain.Category)
	for _, market := range []Market{Domestic, Foreign} {
		batch := batches[market]
		if len(batch) == 0 {
			continue
		}
		answer, err := c.Oracle.Classify(ctx, market, batch)
		if err != nil {
			c.Logger.Warn("classification oracle unavailable, falling back to rules",
				"market", string(market),
				"instruments", len(batch),
				"error", err,
			)
			continue
		}
		for _, in := range batch {
			label, ok := answer[in.Name]
			if !ok {
				continue
			}
			cat := domain.Category(label)
			if !domain.IsSector(cat) {
				c.Logger.Warn("unknown sector from oracle", "name", in.Name, "sector", label)
				cat = domain.CategoryOther
			}
			out[in.Name] = cat
		}
	}
	return out
}
