package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Transcript scrolling
	ScrollDown key.Binding
	ScrollUp   key.Binding

	// Chat
	Send key.Binding

	// Confirmation gate
	Confirm    key.Binding
	CancelGate key.Binding
	Edit       key.Binding
	SaveEdit   key.Binding
	CancelEdit key.Binding

	// Back / Quit
	Back key.Binding
	Quit key.Binding

	// Help toggle
	Help key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		ScrollDown: key.NewBinding(
			key.WithKeys("pgdown", "ctrl+d"),
			key.WithHelp("pgdn", "bajar"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("pgup", "ctrl+u"),
			key.WithHelp("pgup", "subir"),
		),
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "enviar mensaje"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "confirmar acción"),
		),
		CancelGate: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "cancelar acción"),
		),
		Edit: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "editar acción"),
		),
		SaveEdit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "guardar y enviar"),
		),
		CancelEdit: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "descartar cambios"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "volver"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "salir"),
		),
		Help: key.NewBinding(
			key.WithKeys("ctrl+h"),
			key.WithHelp("ctrl+h", "mostrar ayuda"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Send, k.ScrollUp, k.ScrollDown, k.Help, k.Quit,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.ScrollUp, k.ScrollDown},
		{k.Confirm, k.CancelGate, k.Edit, k.SaveEdit, k.CancelEdit},
		{k.Back, k.Help, k.Quit},
	}
}
