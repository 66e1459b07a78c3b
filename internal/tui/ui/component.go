package ui

// MenuHint describes a keyboard shortcut for display in the menu bar.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // 0-9 shortcuts use their own color
	Disabled    bool
}

// Component is a page the app can push: it names its crumb and lists its keys.
type Component interface {
	Name() string
	Hints() []MenuHint
}
