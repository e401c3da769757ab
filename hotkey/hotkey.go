// Package hotkey watches the global listening shortcut.
package hotkey

// Combo is the global shortcut that toggles listening.
const Combo = "Ctrl+Shift+Space"

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}
