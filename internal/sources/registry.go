// Package sources maps logical source keys to persisted Source rows, creating
// them lazily on first use.
package sources

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// Definition is the static description of a source key.
type Definition struct {
	Name       string   `mapstructure:"name"`
	URL        string   `mapstructure:"url"`
	Type       string   `mapstructure:"type"`
	Categories []string `mapstructure:"categories"`
}

// DefaultDefinitions returns the built-in source table.
func DefaultDefinitions() map[string]Definition {
	return map[string]Definition{
		"fxstreet": {
			Name:       "FXStreet",
			URL:        "https://www.fxstreet.com",
			Type:       "news",
			Categories: []string{"forex"},
		},
	}
}

// Registry resolves source keys to Source rows.
type Registry struct {
	store  crawler.SourceStore
	defs   map[string]Definition
	logger *zap.Logger
}

// NewRegistry builds a Registry over the given definitions. Keys are matched
// case-insensitively.
func NewRegistry(store crawler.SourceStore, defs map[string]Definition, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := make(map[string]Definition, len(defs))
	for key, def := range defs {
		normalized[normalizeKey(key)] = def
	}
	return &Registry{
		store:  store,
		defs:   normalized,
		logger: logger,
	}
}

// Lookup returns the definition for key or a *crawler.ConfigurationError.
func (r *Registry) Lookup(key string) (Definition, error) {
	def, ok := r.defs[normalizeKey(key)]
	if !ok {
		return Definition{}, &crawler.ConfigurationError{Key: key}
	}
	return def, nil
}

// Keys lists the registered source keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.defs))
	for key := range r.defs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResolveOrCreate returns the Source for key, creating it when absent. A create
// that loses a race on the unique name constraint re-reads the winner's row.
func (r *Registry) ResolveOrCreate(ctx context.Context, key string) (crawler.Source, error) {
	def, err := r.Lookup(key)
	if err != nil {
		return crawler.Source{}, err
	}

	source, err := r.store.FindSourceByName(ctx, def.Name)
	if err == nil {
		return source, nil
	}
	if !errors.Is(err, crawler.ErrNotFound) {
		return crawler.Source{}, &crawler.PersistenceError{Op: "find source", Err: err}
	}

	created, err := r.store.CreateSource(ctx, crawler.Source{
		Name:   def.Name,
		URL:    def.URL,
		Type:   def.Type,
		Active: true,
		Config: crawler.ScrapingConfig{Categories: append([]string(nil), def.Categories...)},
	})
	switch {
	case err == nil:
		r.logger.Info("source created", zap.String("source", created.Name), zap.String("source_id", created.ID))
		return created, nil
	case errors.Is(err, crawler.ErrUniqueViolation):
		r.logger.Debug("source created concurrently, re-reading", zap.String("source", def.Name))
		source, err = r.store.FindSourceByName(ctx, def.Name)
		if err != nil {
			return crawler.Source{}, &crawler.PersistenceError{Op: "re-read source", Err: err}
		}
		return source, nil
	default:
		return crawler.Source{}, &crawler.PersistenceError{Op: "create source", Err: err}
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
