package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/types"
)

func New(version string, app *config.Config) Model {
	if app == nil {
		app = config.Default()
	}

	in := textinput.New()
	in.Placeholder = "type a message and press enter"
	in.CharLimit = 256
	in.Prompt = "> "

	return Model{
		screen:      screenSourceSelect,
		app:         app,
		fileBrowser: NewFileBrowser([]string{".lua"}),
		menuCursor:  0,
		version:     version,
		role:        types.RoleClient,
		input:       in,
		logViewport: viewport.New(10, 10),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func Run(version string, app *config.Config) error {
	m := New(version, app)
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		fm.session.Close()
	}
	return err
}
