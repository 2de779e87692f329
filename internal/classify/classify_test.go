package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/tradesync/internal/cache"
	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/rules"
)

type call struct {
	market Market
	names  []string
}

// recorder returns an oracle answering from answers and recording calls.
func recorder(answers map[string]string, err error, calls *[]call) Oracle {
	return OracleFunc(func(_ context.Context, market Market, instruments []Instrument) (map[string]string, error) {
		c := call{market: market}
		for _, in := range instruments {
			c.names = append(c.names, in.Name)
		}
		*calls = append(*calls, c)
		if err != nil {
			return nil, err
		}
		out := make(map[string]string)
		for _, in := range instruments {
			if a, ok := answers[in.Name]; ok {
				out[in.Name] = a
			}
		}
		return out, nil
	})
}

func mustRules(t *testing.T) *rules.Engine {
	t.Helper()
	engine, err := rules.LoadEmbedded()
	require.NoError(t, err)
	return engine
}

func TestClassify_Precedence(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory(map[string]domain.Category{"삼성전자": domain.CategoryIT})
	var calls []call
	oracle := recorder(map[string]string{
		"KB금융":       "금융",
		"APPLE INC":  "IT",
		"NEW MYSTERY": "우주항공",
	}, nil, &calls)

	c := New(store, oracle, mustRules(t), nil)
	got := c.Classify(ctx, []Instrument{
		{Name: "삼성전자", Code: "005930", Currency: "KRW"},
		{Name: "KB금융", Code: "105560", Currency: "KRW"},
		{Name: "KODEX 200", Code: "069500", Currency: "KRW"},
		{Name: "APPLE INC", Code: "AAPL", Currency: "USD"},
		{Name: "NEW MYSTERY", Code: "NMY", Currency: "USD"},
		{Name: "알수없음", Code: "000000", Currency: "KRW"},
	})

	assert.Equal(t, map[string]domain.Category{
		"삼성전자":       domain.CategoryIT,
		"KB금융":       domain.CategoryFinancials,
		"KODEX 200":  domain.CategoryETF,
		"APPLE INC":  domain.CategoryIT,
		"NEW MYSTERY": domain.CategoryOther,
		"알수없음":       domain.CategoryUnclassified,
	}, got)

	require.Len(t, calls, 2)
	assert.Equal(t, Domestic, calls[0].market)
	assert.Equal(t, []string{"KB금융", "KODEX 200", "알수없음"}, calls[0].names)
	assert.Equal(t, Foreign, calls[1].market)
	assert.Equal(t, []string{"APPLE INC", "NEW MYSTERY"}, calls[1].names)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryFinancials, snap["KB금융"])
	assert.Equal(t, domain.CategoryOther, snap["NEW MYSTERY"])
	_, cachedRule := snap["KODEX 200"]
	assert.False(t, cachedRule, "rule fallbacks are not cached")
	_, cachedUnknown := snap["알수없음"]
	assert.False(t, cachedUnknown)
}

func TestClassify_CacheHitSkipsOracle(t *testing.T) {
	store := cache.NewMemory(map[string]domain.Category{"삼성전자": domain.CategoryIT})
	var calls []call
	c := New(store, recorder(nil, nil, &calls), nil, nil)

	got := c.Classify(context.Background(), []Instrument{
		{Name: "삼성전자", Currency: "KRW"},
		{Name: "삼성전자", Currency: "KRW"},
	})
	assert.Equal(t, map[string]domain.Category{"삼성전자": domain.CategoryIT}, got)
	assert.Empty(t, calls)
}

func TestClassify_OracleUnavailable(t *testing.T) {
	store := cache.NewMemory(nil)
	var calls []call
	c := New(store, recorder(nil, errors.New("quota exceeded"), &calls), mustRules(t), nil)

	got := c.Classify(context.Background(), []Instrument{
		{Name: "TIGER 미국나스닥100", Code: "133690", Currency: "KRW"},
		{Name: "SPDR S&P 500 ETF TRUST", Code: "SPY", Currency: "USD"},
		{Name: "TESLA INC", Code: "TSLA", Currency: "USD"},
	})
	assert.Equal(t, map[string]domain.Category{
		"TIGER 미국나스닥100":          domain.CategoryETF,
		"SPDR S&P 500 ETF TRUST": domain.CategoryETF,
		"TESLA INC":              domain.CategoryUnclassified,
	}, got)
	assert.Len(t, calls, 2)

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestClassify_NoCollaborators(t *testing.T) {
	c := New(nil, nil, nil, nil)
	got := c.Classify(context.Background(), []Instrument{{Name: "삼성전자"}})
	assert.Equal(t, map[string]domain.Category{"삼성전자": domain.CategoryUnclassified}, got)
}

func TestClassify_CancelledContextSkipsOracle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls []call
	c := New(nil, recorder(map[string]string{"삼성전자": "IT"}, nil, &calls), nil, nil)

	got := c.Classify(ctx, []Instrument{{Name: "삼성전자", Currency: "KRW"}})
	assert.Empty(t, calls)
	assert.Equal(t, domain.CategoryUnclassified, got["삼성전자"])
}

func TestInstruments(t *testing.T) {
	trades := []domain.Trade{
		{Name: "삼성전자", Code: "005930", Currency: "KRW"},
		{Name: "APPLE INC", Code: "AAPL", Currency: "USD"},
		{Name: "삼성전자", Code: "005930", Currency: "KRW"},
	}
	assert.Equal(t, []Instrument{
		{Name: "삼성전자", Code: "005930", Currency: "KRW"},
		{Name: "APPLE INC", Code: "AAPL", Currency: "USD"},
	}, Instruments(trades))
}

func TestMarketOf(t *testing.T) {
	assert.Equal(t, Domestic, MarketOf(Instrument{Currency: "KRW"}))
	assert.Equal(t, Domestic, MarketOf(Instrument{}))
	assert.Equal(t, Foreign, MarketOf(Instrument{Currency: "USD"}))
}

func TestPrompt(t *testing.T) {
	p := Prompt(Foreign, []Instrument{{Name: "APPLE INC", Code: "AAPL"}, {Name: "TESLA INC", Code: "TSLA"}})
	assert.True(t, strings.HasPrefix(p, "다음 해외 주식 종목들의 섹터를 분류해주세요:"))
	assert.Contains(t, p, "\n- APPLE INC (AAPL)")
	assert.Contains(t, p, "\n- TESLA INC (TSLA)")
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    map[string]string
		wantErr bool
	}{
		{name: "plain", text: `{"삼성전자": "IT"}`, want: map[string]string{"삼성전자": "IT"}},
		{name: "fenced", text: "```json\n{\"KB금융\": \"금융\"}\n```", want: map[string]string{"KB금융": "금융"}},
		{name: "not json", text: "삼성전자는 IT입니다", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnswer(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
