package tui

import "github.com/evanschultz/trackflow/internal/domain"

// Option configures a Model.
type Option func(*Model)

// WithKeyConfig applies key overrides from config.
func WithKeyConfig(cfg KeyConfig) Option {
	return func(m *Model) {
		m.keys.applyConfig(cfg)
	}
}

// WithStartBoard selects the board shown on launch. Unknown kinds are ignored.
func WithStartBoard(kind domain.Kind) Option {
	return func(m *Model) {
		for idx, k := range m.kinds {
			if k == domain.NormalizeKind(kind) {
				m.kindIdx = idx
				return
			}
		}
	}
}

// WithClipboard replaces the clipboard writer used by the copy id binding.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) {
		if write != nil {
			m.copyText = write
		}
	}
}
