package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	PlayPause key.Binding
	SeekBack  key.Binding
	SeekFwd   key.Binding
	Mute      key.Binding
	Quality   key.Binding
	Library   key.Binding
	Up        key.Binding
	Down      key.Binding
	Select    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		PlayPause: key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		SeekBack:  key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "seek -5s")),
		SeekFwd:   key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "seek +5s")),
		Mute:      key.NewBinding(key.WithKeys("1", "2", "3", "4"), key.WithHelp("1-4", "mute stem")),
		Quality:   key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "fft size")),
		Library:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "library")),
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓", "down")),
		Select:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "load song")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PlayPause, k.SeekBack, k.SeekFwd, k.Mute, k.Library, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PlayPause, k.SeekBack, k.SeekFwd},
		{k.Mute, k.Quality, k.Library},
		{k.Up, k.Down, k.Select},
		{k.Help, k.Quit},
	}
}
