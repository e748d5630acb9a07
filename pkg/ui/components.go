// Package ui builds the interactive UI elements (buttons, select menus,
// modal forms) attached to messages that open interactive sessions. It is
// pure data construction: no I/O, no concurrency. Builders validate the
// transport's per-message limits and fail fast on violations.
package ui

import "fmt"

// Transport limits for interactive components.
const (
	MaxRowsPerMessage = 5
	MaxButtonsPerRow  = 5
	MaxOptionsPerMenu = 25
	MaxFieldsPerForm  = 5
	MaxLabelLength    = 80
)

// ButtonStyle selects a button's visual treatment.
type ButtonStyle string

const (
	StylePrimary   ButtonStyle = "primary"
	StyleSecondary ButtonStyle = "secondary"
	StyleDanger    ButtonStyle = "danger"
	StyleLink      ButtonStyle = "link"
)

// Button is a single clickable component.
type Button struct {
	CustomID string      `json:"custom_id,omitempty"`
	Label    string      `json:"label"`
	Style    ButtonStyle `json:"style"`
	URL      string      `json:"url,omitempty"`
	Disabled bool        `json:"disabled,omitempty"`
}

// SelectOption is one choice in a select menu.
type SelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// SelectMenu is a dropdown component.
type SelectMenu struct {
	CustomID    string         `json:"custom_id"`
	Placeholder string         `json:"placeholder,omitempty"`
	MinValues   int            `json:"min_values"`
	MaxValues   int            `json:"max_values"`
	Options     []SelectOption `json:"options"`
}

// Row is one action row: either up to MaxButtonsPerRow buttons or a single
// select menu, never both.
type Row struct {
	Buttons []Button    `json:"buttons,omitempty"`
	Menu    *SelectMenu `json:"menu,omitempty"`
}

// FormField is one text input in a modal form.
type FormField struct {
	CustomID  string `json:"custom_id"`
	Label     string `json:"label"`
	Required  bool   `json:"required"`
	MaxLength int    `json:"max_length,omitempty"`
}

// Form is a modal form shown in response to an interaction.
type Form struct {
	CustomID string      `json:"custom_id"`
	Title    string      `json:"title"`
	Fields   []FormField `json:"fields"`
}

// Components is the complete interactive payload for one message.
type Components struct {
	Rows []Row `json:"rows"`
}

// NewButton builds a non-link button.
func NewButton(customID, label string, style ButtonStyle) (Button, error) {
	if customID == "" {
		return Button{}, fmt.Errorf("ui: button custom id is required")
	}
	if err := validateLabel(label); err != nil {
		return Button{}, err
	}
	if style == StyleLink {
		return Button{}, fmt.Errorf("ui: link buttons need a URL, use NewLinkButton")
	}
	return Button{CustomID: customID, Label: label, Style: style}, nil
}

// NewLinkButton builds a link button. Link buttons carry no custom ID and
// never produce interaction events.
func NewLinkButton(label, url string) (Button, error) {
	if err := validateLabel(label); err != nil {
		return Button{}, err
	}
	if url == "" {
		return Button{}, fmt.Errorf("ui: link button URL is required")
	}
	return Button{Label: label, Style: StyleLink, URL: url}, nil
}

// NewSelectMenu builds a select menu with the given options.
func NewSelectMenu(customID, placeholder string, options []SelectOption) (*SelectMenu, error) {
	if customID == "" {
		return nil, fmt.Errorf("ui: select menu custom id is required")
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("ui: select menu needs at least one option")
	}
	if len(options) > MaxOptionsPerMenu {
		return nil, fmt.Errorf("ui: select menu has %d options, max is %d", len(options), MaxOptionsPerMenu)
	}
	seen := make(map[string]bool, len(options))
	for _, opt := range options {
		if opt.Value == "" {
			return nil, fmt.Errorf("ui: select option %q has no value", opt.Label)
		}
		if seen[opt.Value] {
			return nil, fmt.Errorf("ui: duplicate select option value %q", opt.Value)
		}
		seen[opt.Value] = true
	}
	return &SelectMenu{
		CustomID:    customID,
		Placeholder: placeholder,
		MinValues:   1,
		MaxValues:   1,
		Options:     options,
	}, nil
}

// NewForm builds a modal form.
func NewForm(customID, title string, fields ...FormField) (*Form, error) {
	if customID == "" {
		return nil, fmt.Errorf("ui: form custom id is required")
	}
	if title == "" {
		return nil, fmt.Errorf("ui: form title is required")
	}
	if len(fields) == 0 || len(fields) > MaxFieldsPerForm {
		return nil, fmt.Errorf("ui: form needs between 1 and %d fields, got %d", MaxFieldsPerForm, len(fields))
	}
	for _, f := range fields {
		if f.CustomID == "" || f.Label == "" {
			return nil, fmt.Errorf("ui: form fields need a custom id and a label")
		}
	}
	return &Form{CustomID: customID, Title: title, Fields: fields}, nil
}

// Builder accumulates action rows for one message.
type Builder struct {
	rows []Row
	err  error
}

// NewBuilder creates an empty component builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddButtonRow appends a row of buttons. The first violation sticks and is
// reported by Build.
func (b *Builder) AddButtonRow(buttons ...Button) *Builder {
	if b.err != nil {
		return b
	}
	if len(buttons) == 0 || len(buttons) > MaxButtonsPerRow {
		b.err = fmt.Errorf("ui: row needs between 1 and %d buttons, got %d", MaxButtonsPerRow, len(buttons))
		return b
	}
	b.rows = append(b.rows, Row{Buttons: buttons})
	return b
}

// AddMenuRow appends a row holding a single select menu.
func (b *Builder) AddMenuRow(menu *SelectMenu) *Builder {
	if b.err != nil {
		return b
	}
	if menu == nil {
		b.err = fmt.Errorf("ui: menu row needs a menu")
		return b
	}
	b.rows = append(b.rows, Row{Menu: menu})
	return b
}

// Build validates row count and returns the assembled components.
func (b *Builder) Build() (*Components, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.rows) == 0 {
		return nil, fmt.Errorf("ui: message needs at least one row")
	}
	if len(b.rows) > MaxRowsPerMessage {
		return nil, fmt.Errorf("ui: message has %d rows, max is %d", len(b.rows), MaxRowsPerMessage)
	}
	return &Components{Rows: b.rows}, nil
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("ui: label is required")
	}
	if len(label) > MaxLabelLength {
		// Rune slice so the preview never splits a multi-byte character.
		return fmt.Errorf("ui: label %q exceeds %d characters", string([]rune(label)[:16])+"...", MaxLabelLength)
	}
	return nil
}
