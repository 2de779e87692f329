package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/tradesync/internal/parser"
	"github.com/rumor-ml/commons.systems/tradesync/internal/parsers/hankook"
	"github.com/rumor-ml/commons.systems/tradesync/internal/parsers/mirae"
	"github.com/rumor-ml/commons.systems/tradesync/internal/parsers/ofx"
)

// ErrNoParser is returned when no registered parser recognises a header.
var ErrNoParser = errors.New("no parser found")

// Registry holds all registered parsers
type Registry struct {
	parsers []parser.Parser
}

// New creates a registry with all built-in parsers in priority order.
func New() (*Registry, error) {
	r := &Registry{}
	for _, p := range []parser.Parser{
		mirae.NewDomesticParser(),
		mirae.NewForeignParser(),
		hankook.NewParser(),
		ofx.NewParser(),
	} {
		if err := r.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register built-in parser: %w", err)
		}
	}
	return r, nil
}

// MustNew is New for callers that cannot recover from a broken built-in set.
func MustNew() *Registry {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a custom parser (for extensibility)
func (r *Registry) Register(p parser.Parser) error {
	if p == nil {
		return fmt.Errorf("cannot register nil parser")
	}
	for _, existing := range r.parsers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("parser %q already registered", p.Name())
		}
	}
	r.parsers = append(r.parsers, p)
	return nil
}

// FindParser returns the first parser, in registration order, whose predicate
// accepts the cleaned header.
func (r *Registry) FindParser(header []string) (parser.Parser, error) {
	cleaned := parser.CleanHeader(header)
	for _, p := range r.parsers {
		if p.CanParse(cleaned) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w for header [%s]", ErrNoParser, strings.Join(cleaned, ", "))
}

// Lookup returns the parser registered under name.
func (r *Registry) Lookup(name string) (parser.Parser, bool) {
	for _, p := range r.parsers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// ListParsers returns all registered parsers
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
