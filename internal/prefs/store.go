// Package prefs implements the per-user preferences document: a two-level
// category -> key -> value tree, persisted as JSON, with default overlay,
// category reset, export/import, and range validation.
package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/arcwave/arbicore/internal/domain"
)

const (
	themeLight  = "light"
	themeDark   = "dark"
	themeSystem = "system"
)

var validThemes = map[string]bool{themeLight: true, themeDark: true, themeSystem: true}

var validTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "1h": true, "4h": true, "1d": true, "1w": true,
}

// ValidationResult is the outcome of Validate: whether the document is
// clean, and the list of human-readable issues if not.
type ValidationResult struct {
	Valid  bool
	Issues []string
}

// Manager mediates every operation against a single user's preferences
// document through a domain.PreferencesStore, overlaying the compiled-in
// default tree wherever the stored document is missing a category or key.
type Manager struct {
	store domain.PreferencesStore
}

// New constructs a Manager backed by store. Use a JSON-file store for the
// default backend, or the Postgres-backed store as an optional variant —
// both satisfy domain.PreferencesStore.
func New(store domain.PreferencesStore) *Manager {
	return &Manager{store: store}
}

func (m *Manager) loadOrDefault(ctx context.Context, userID string) (domain.Preferences, error) {
	prefs, err := m.store.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DefaultPreferences(), nil
		}
		return nil, fmt.Errorf("prefs: load %s: %w", userID, err)
	}
	return overlay(prefs), nil
}

// overlay fills in any category/key missing from prefs using the compiled
// default tree, without mutating the caller's map.
func overlay(prefs domain.Preferences) domain.Preferences {
	defaults := domain.DefaultPreferences()
	out := defaults.Clone()
	for category, kv := range prefs {
		if out[category] == nil {
			out[category] = make(map[string]interface{}, len(kv))
		}
		for k, v := range kv {
			out[category][k] = v
		}
	}
	return out
}

// Get returns one preference, falling back through user -> default when the
// category or key is missing.
func (m *Manager) Get(ctx context.Context, userID, category, key string) (interface{}, error) {
	prefs, err := m.loadOrDefault(ctx, userID)
	if err != nil {
		return nil, err
	}
	if kv, ok := prefs[category]; ok {
		if v, ok := kv[key]; ok {
			return v, nil
		}
	}
	if kv, ok := domain.DefaultPreferences()[category]; ok {
		return kv[key], nil
	}
	return nil, nil
}

// Set persists one preference value, creating the category if needed.
func (m *Manager) Set(ctx context.Context, userID, category, key string, value interface{}) error {
	prefs, err := m.loadOrDefault(ctx, userID)
	if err != nil {
		return err
	}
	if prefs[category] == nil {
		prefs[category] = make(map[string]interface{})
	}
	prefs[category][key] = value
	return m.save(ctx, userID, prefs)
}

// Update bulk-merges updates into the user's document, category by
// category.
func (m *Manager) Update(ctx context.Context, userID string, updates domain.Preferences) error {
	prefs, err := m.loadOrDefault(ctx, userID)
	if err != nil {
		return err
	}
	for category, kv := range updates {
		if prefs[category] == nil {
			prefs[category] = make(map[string]interface{}, len(kv))
		}
		for k, v := range kv {
			prefs[category][k] = v
		}
	}
	return m.save(ctx, userID, prefs)
}

// ResetCategory resets one category to its default values.
func (m *Manager) ResetCategory(ctx context.Context, userID, category string) error {
	defaults := domain.DefaultPreferences()
	defaultCategory, ok := defaults[category]
	if !ok {
		return domain.NewError(domain.KindConfigError, "prefs.ResetCategory", fmt.Errorf("unknown category %q", category))
	}

	prefs, err := m.loadOrDefault(ctx, userID)
	if err != nil {
		return err
	}
	reset := make(map[string]interface{}, len(defaultCategory))
	for k, v := range defaultCategory {
		reset[k] = v
	}
	prefs[category] = reset
	return m.save(ctx, userID, prefs)
}

// ResetAll resets the user's entire document to the default tree.
func (m *Manager) ResetAll(ctx context.Context, userID string) error {
	return m.save(ctx, userID, domain.DefaultPreferences())
}

// Export returns the full current document, suitable for serialization by
// the caller under its own export filename convention.
func (m *Manager) Export(ctx context.Context, userID string) (domain.Preferences, error) {
	return m.loadOrDefault(ctx, userID)
}

// Import replaces the user's document wholesale with imported.
func (m *Manager) Import(ctx context.Context, userID string, imported domain.Preferences) error {
	return m.save(ctx, userID, imported)
}

// Validate checks the user's current document against the known range
// constraints: position size in [0,1], theme in {light,dark,system}, known
// timeframes, confidence in [0,1].
func (m *Manager) Validate(ctx context.Context, userID string) (ValidationResult, error) {
	prefs, err := m.loadOrDefault(ctx, userID)
	if err != nil {
		return ValidationResult{}, err
	}

	var issues []string

	if v, ok := floatAt(prefs, "trading", "max_position_size"); ok && (v < 0 || v > 1) {
		issues = append(issues, "invalid max_position_size: must be in [0,1]")
	}
	if v, ok := stringAt(prefs, "ui", "theme"); ok && !validThemes[v] {
		issues = append(issues, fmt.Sprintf("invalid theme %q: must be one of light, dark, system", v))
	}
	if frames, ok := prefs["analysis"]["preferred_timeframes"].([]string); ok {
		for _, tf := range frames {
			if !validTimeframes[tf] {
				issues = append(issues, fmt.Sprintf("invalid timeframe %q", tf))
			}
		}
	}
	if v, ok := floatAt(prefs, "rehoboam", "confidence_threshold"); ok && (v < 0 || v > 1) {
		issues = append(issues, "invalid confidence_threshold: must be in [0,1]")
	}

	return ValidationResult{Valid: len(issues) == 0, Issues: issues}, nil
}

func (m *Manager) save(ctx context.Context, userID string, prefs domain.Preferences) error {
	if err := m.store.Save(ctx, userID, prefs); err != nil {
		return fmt.Errorf("prefs: save %s: %w", userID, err)
	}
	return nil
}

// Delete removes the user's preferences document entirely.
func (m *Manager) Delete(ctx context.Context, userID string) error {
	if err := m.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("prefs: delete %s: %w", userID, err)
	}
	return nil
}

func floatAt(p domain.Preferences, category, key string) (float64, bool) {
	kv, ok := p[category]
	if !ok {
		return 0, false
	}
	switch v := kv[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func stringAt(p domain.Preferences, category, key string) (string, bool) {
	kv, ok := p[category]
	if !ok {
		return "", false
	}
	v, ok := kv[key].(string)
	return v, ok
}
