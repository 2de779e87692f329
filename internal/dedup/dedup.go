// Package dedup decides which candidate trades are already persisted in a
// destination sheet.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/sheets"
)

// KeySet is a set of trade identities with an occurrence count per identity.
type KeySet struct {
	keys map[domain.Identity]int
}

// NewKeySet creates an empty set.
func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[domain.Identity]int)}
}

// IsDuplicate reports whether the identity is in the set.
func (s *KeySet) IsDuplicate(id domain.Identity) bool {
	_, exists := s.keys[id]
	return exists
}

// Record adds an identity to the set.
func (s *KeySet) Record(id domain.Identity) {
	s.keys[id]++
}

// Len is the number of distinct identities.
func (s *KeySet) Len() int {
	return len(s.keys)
}

// Filter compares candidates against the rows already stored in a destination.
// It never writes to the store.
type Filter struct {
	Store  sheets.Store
	Logger *slog.Logger
}

// New creates a Filter. A nil logger falls back to slog.Default.
func New(store sheets.Store, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{Store: store, Logger: logger}
}

// Existing loads the identity of every data row in dest. Values are read in
// raw mode: display formatting would turn 1500 into "1,500" and break the
// comparison. A destination that does not exist yet yields an empty set.
// Only the identity cells are read; a row is left out, with a warning, when
// its quantity or price is not a number.
func (f *Filter) Existing(ctx context.Context, dest string, kind domain.Kind) (*KeySet, error) {
	set := NewKeySet()
	rows, err := f.Store.Read(ctx, dest, sheets.A1Range(1, 2, kind.Columns(), 0), sheets.RenderRaw)
	if errors.Is(err, sheets.ErrNotFound) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read existing rows of %s: %w", dest, err)
	}

	for i, row := range rows {
		if len(row) == 0 || domain.CellString(row[0]) == "" {
			continue
		}
		id, err := domain.IdentityFromRow(kind, row)
		if err != nil {
			// data starts on sheet row 2
			f.Logger.Warn("skipping unreadable row", "sheet", dest, "row", i+2, "error", err)
			continue
		}
		set.Record(id)
	}
	return set, nil
}

// Filter returns the candidates whose identity is not already stored in dest,
// in their original order, and the number that were.
//
// Only persisted rows count: two identical candidates in the same batch are
// both kept when neither is stored yet.
func (f *Filter) Filter(ctx context.Context, dest string, kind domain.Kind, candidates []domain.Trade) ([]domain.Trade, int, error) {
	existing, err := f.Existing(ctx, dest, kind)
	if err != nil {
		return nil, 0, err
	}

	fresh := make([]domain.Trade, 0, len(candidates))
	dups := 0
	for _, tr := range candidates {
		if existing.IsDuplicate(tr.Identity()) {
			dups++
			continue
		}
		fresh = append(fresh, tr)
	}
	if dups > 0 {
		f.Logger.Info("duplicate trades skipped", "sheet", dest, "duplicates", dups, "new", len(fresh))
	}
	return fresh, dups, nil
}
