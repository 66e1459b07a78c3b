package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Name        string
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	return a.match(ev.Key(), ev.Rune())
}

func (a *Action) match(key tcell.Key, r rune) bool {
	if a.Key != tcell.KeyRune {
		return key == a.Key
	}
	return key == tcell.KeyRune && r == a.Rune
}

// Registry holds keybindings organized by scope. Bindings keep their
// registration order; registering a name again replaces the binding in place.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{
		views: make(map[string][]*Action),
	}
}

// AddGlobal registers a global keybinding.
func (r *Registry) AddGlobal(name string, action *Action) {
	action.Name = name
	r.global = upsert(r.global, action)
}

// AddView registers a view-specific keybinding.
func (r *Registry) AddView(view, name string, action *Action) {
	action.Name = name
	r.views[view] = upsert(r.views[view], action)
}

func upsert(list []*Action, a *Action) []*Action {
	for i, existing := range list {
		if existing.Name == a.Name {
			list[i] = a
			return list
		}
	}
	return append(list, a)
}

// Visible returns the visible bindings of a view followed by the global ones.
func (r *Registry) Visible(view string) []*Action {
	var out []*Action
	for _, a := range r.views[view] {
		if a.Visible {
			out = append(out, a)
		}
	}
	for _, a := range r.global {
		if a.Visible {
			out = append(out, a)
		}
	}
	return out
}

// Hints returns visible keybinding descriptions for a given view.
func (r *Registry) Hints(view string) []string {
	var hints []string
	for _, a := range r.Visible(view) {
		hints = append(hints, a.Description)
	}
	return hints
}

// HandleEvent dispatches a key event to matching action in the given view.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	return r.Dispatch(view, ev.Key(), ev.Rune())
}

// Dispatch runs the binding for key (and r, for rune keys) in view.
func (r *Registry) Dispatch(view string, key tcell.Key, ch rune) bool {
	// View bindings shadow global ones.
	for _, a := range r.views[view] {
		if a.match(key, ch) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.match(key, ch) {
			a.Handler()
			return true
		}
	}
	return false
}
