package domain

// Preferences is a two-level category -> key -> value document, persisted
// as one JSON document per user. A missing key falls back to the
// compiled-in default tree.
type Preferences map[string]map[string]interface{}

// Clone returns a deep-enough copy safe to mutate independently.
func (p Preferences) Clone() Preferences {
	out := make(Preferences, len(p))
	for category, kv := range p {
		copied := make(map[string]interface{}, len(kv))
		for k, v := range kv {
			copied[k] = v
		}
		out[category] = copied
	}
	return out
}

// DefaultPreferences is the compiled-in tree overlaid whenever a user's
// document is missing a category or key, grounded in the original system's
// trading/ui/analysis/rehoboam default blocks.
func DefaultPreferences() Preferences {
	return Preferences{
		"trading": {
			"max_position_size":     0.1,
			"risk_tolerance":        "medium",
			"preferred_chains":      []string{"ethereum", "polygon"},
			"auto_trade":            false,
			"notification_channels": []string{"email", "websocket"},
		},
		"ui": {
			"theme":                 "light",
			"chart_interval":        "1h",
			"default_view":          "portfolio",
			"notifications_enabled": true,
			"sound_enabled":         true,
		},
		"analysis": {
			"preferred_timeframes": []string{"1h", "4h", "1d"},
			"indicators":           []string{"RSI", "MACD", "BB"},
			"emotion_alerts":       true,
			"risk_alerts":          true,
		},
		"rehoboam": {
			"ai_model":                 "anthropic/claude-2",
			"analysis_frequency":       300,
			"confidence_threshold":     0.7,
			"max_concurrent_positions": 5,
		},
	}
}
