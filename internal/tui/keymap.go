package tui

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"charm.land/bubbles/v2/key"
)

// keyMap represents key map data used by this package.
type keyMap struct {
	quit        key.Binding
	reload      key.Binding
	toggleHelp  key.Binding
	columnLeft  key.Binding
	columnRight key.Binding
	entityUp    key.Binding
	entityDown  key.Binding
	hoverLeft   key.Binding
	hoverRight  key.Binding
	hoverUp     key.Binding
	hoverDown   key.Binding
	grab        key.Binding
	drop        key.Binding
	cancel      key.Binding
	switchBoard key.Binding
	detail      key.Binding
	copyID      key.Binding
}

// KeyConfig holds user overrides for rebindable keys. Blank values keep defaults.
type KeyConfig struct {
	Grab        string
	Drop        string
	Detail      string
	CopyID      string
	SwitchBoard string
}

// newKeyMap constructs key map.
func newKeyMap() keyMap {
	return keyMap{
		quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		reload:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		toggleHelp:  key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		columnLeft:  key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "column left")),
		columnRight: key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "column right")),
		entityUp:    key.NewBinding(key.WithKeys("k"), key.WithHelp("k", "entity up")),
		entityDown:  key.NewBinding(key.WithKeys("j"), key.WithHelp("j", "entity down")),
		hoverLeft:   key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "drag to column left")),
		hoverRight:  key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "drag to column right")),
		hoverUp:     key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "drag up")),
		hoverDown:   key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "drag down")),
		grab:        key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "grab")),
		drop:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "drop")),
		cancel:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		switchBoard: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch board")),
		detail:      key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "detail")),
		copyID:      key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy id")),
	}
}

// applyConfig applies configured key overrides.
func (k *keyMap) applyConfig(cfg KeyConfig) {
	configureBinding(&k.grab, cfg.Grab, "space", "grab")
	configureBinding(&k.drop, cfg.Drop, "enter", "drop")
	configureBinding(&k.detail, cfg.Detail, "i", "detail")
	configureBinding(&k.copyID, cfg.CopyID, "y", "copy id")
	configureBinding(&k.switchBoard, cfg.SwitchBoard, "tab", "switch board")
}

// configureBinding rebinds one key while keeping its help description.
func configureBinding(binding *key.Binding, raw, fallback, desc string) {
	keys, help := parseBindingKeys(raw, fallback)
	binding.SetKeys(keys...)
	binding.SetHelp(help, desc)
}

// parseBindingKeys converts one configured key into matcher keys and help text.
func parseBindingKeys(raw, fallback string) ([]string, string) {
	value := strings.TrimSpace(raw)
	if value == "" {
		value = fallback
	}
	if strings.EqualFold(value, "space") || value == " " {
		return []string{" ", "space"}, "space"
	}
	if utf8.RuneCountInString(value) == 1 {
		r, _ := utf8.DecodeRuneInString(value)
		if unicode.IsUpper(r) {
			return []string{value, "shift+" + strings.ToLower(value)}, value
		}
		return []string{value}, value
	}
	return []string{strings.ToLower(value)}, value
}

// ShortHelp handles short help.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.grab, k.drop, k.cancel, k.switchBoard, k.detail, k.copyID, k.toggleHelp, k.quit,
	}
}

// FullHelp handles full help.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.columnLeft, k.columnRight, k.entityUp, k.entityDown},
		{k.grab, k.hoverLeft, k.hoverRight, k.hoverUp, k.hoverDown, k.drop, k.cancel},
		{k.switchBoard, k.detail, k.copyID, k.reload, k.toggleHelp, k.quit},
	}
}
