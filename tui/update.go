package tui

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/engine"
	"github.com/samaelod/scpsim/lua"
	"github.com/samaelod/scpsim/types"
)

func openLogsInEditor(logContent string) tea.Cmd {
	// Create temp file first
	f, err := os.CreateTemp("", "scpsim-logs-*.log")
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}

	_, err = f.WriteString(logContent)
	if err != nil {
		f.Close()
		return func() tea.Msg { return errMsg{err} }
	}
	f.Close()
	tempPath := f.Name()

	c := exec.Command(editorCommand(), tempPath)
	return tea.ExecProcess(c, func(err error) tea.Msg {
		// Clean up temp file after editor closes
		os.Remove(tempPath)
		return nil
	})
}

func editorCommand() string {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	return editor
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Browser takes 1/3 of the window; -7 is window chrome plus panel chrome.
		m.fileBrowser.SetSize(max(m.width/3-4, 0), max(msg.Height-7, 0))
		m.resize()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		// In the message input "q" is just a letter.
		if msg.String() == "q" && !(m.screen == screenSession && m.focus == focusInput) {
			return m, tea.Quit
		}
	}

	// Handle global messages (like session started) regardless of screen
	switch msg := msg.(type) {
	case sessionStartedMsg:
		m.session.Close()
		m.session = msg.session
		m.selectedFile = msg.session.path
		m.err = nil
		m.status = ""
		m.screen = screenSession
		m.setFocus(focusInput)
		m.logContent = "Ready. Type a message and press enter."
		m.logViewport.SetContent(m.logContent)
		m.resize()
		return m, waitForLog(m.session.log)

	case errMsg:
		m.err = msg.err
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		// Restart from the edited file; the old session stops once the new one is up.
		return m, startScenarioCmd(m.app, m.selectedFile, false)

	case savedMsg:
		m.status = "saved " + msg.path
		return m, nil

	case logMsg:
		if m.session == nil || msg.from != m.session.log {
			// Wake-up from a session that has been replaced.
			return m, nil
		}
		m.logContent = m.session.log.ReadAll()
		m.logViewport.SetContent(m.logContent)
		m.logViewport.GotoBottom()
		return m, waitForLog(m.session.log)
	}

	switch m.screen {

	case screenSourceSelect:
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "up", "k", "left", "h":
				m.menuCursor--
				if m.menuCursor < 0 {
					m.menuCursor = 1
				}
			case "down", "j", "right", "l":
				m.menuCursor++
				if m.menuCursor > 1 {
					m.menuCursor = 0
				}
			case "enter":
				switch m.menuCursor {
				case 0:
					m.source = sourceLive
					m.screen = screenLoading
					return m, startLiveCmd(m.app)
				case 1:
					m.source = sourceLua
					m.fileBrowser = NewFileBrowser([]string{".lua"})
					m.fileBrowser.SetSize(max(m.width/3-4, 0), max(m.height-7, 0))
					m.screen = screenFilePicker
				}
			}
		}
		return m, nil

	case screenFilePicker:
		var cmd tea.Cmd
		m.fileBrowser, cmd = m.fileBrowser.Update(msg)

		// Check if a file was confirmed (Enter key on a file item)
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
			item := m.fileBrowser.List.SelectedItem()
			fi, ok := item.(fileItem)
			if !ok || fi.isDir || !m.fileBrowser.allowed(fi.name) {
				return m, cmd
			}

			m.screen = screenLoading
			log.Println("selected scenario: " + fi.path)
			return m, startScenarioCmd(m.app, fi.path, true)
		}

		return m, cmd

	case screenLoading:
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" && m.err != nil {
			m.err = nil
			m.screen = screenSourceSelect
		}
		return m, nil

	case screenSession:
		return m.updateSession(msg)
	}

	return m, nil
}

func (m Model) updateSession(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	key, isKey := msg.(tea.KeyMsg)
	if isKey {
		switch key.String() {
		case "tab":
			m.setFocus((m.focus + 1) % focusCount)
			m.resize()
			return m, nil
		case "shift+tab":
			m.setFocus((m.focus + focusCount - 1) % focusCount)
			m.resize()
			return m, nil
		case "ctrl+r":
			m.role = m.role.Peer()
			return m, nil
		case "ctrl+l":
			m.session.Clear()
			m.status = ""
			return m, nil
		case "ctrl+s":
			return m, saveCmd(m.session.Scenario(), m.app.RecentDir)
		}
	}

	switch m.focus {
	case focusInput:
		if isKey && key.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.session.Send(m.role, text)
			}
			m.input.Reset()
			return m, nil
		}
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case focusControls:
		if !isKey {
			return m, nil
		}
		switch key.String() {
		case "up", "k":
			if m.controlCursor > 0 {
				m.controlCursor--
			}
		case "down", "j":
			if m.controlCursor < len(controls)-1 {
				m.controlCursor++
			}
		case "left", "h":
			m.adjust(m.controlCursor, -1)
		case "right", "l":
			m.adjust(m.controlCursor, 1)
		case " ", "space":
			m.adjust(controlLoss, 1)
		case "e":
			if m.selectedFile == "" {
				m.status = "live session has no scenario file"
				return m, nil
			}
			c := exec.Command(editorCommand(), m.selectedFile)
			return m, tea.ExecProcess(c, func(err error) tea.Msg {
				return editorFinishedMsg{err}
			})
		}
		return m, nil

	case focusLogs:
		if isKey {
			switch key.String() {
			case "e":
				return m, openLogsInEditor(m.logContent)
			case "g":
				m.logViewport.GotoTop()
				return m, nil
			case "G":
				m.logViewport.GotoBottom()
				return m, nil
			}
		}
		m.logViewport, cmd = m.logViewport.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) adjust(idx, dir int) {
	if err := adjustControl(m.session.cfg, idx, dir); err != nil {
		m.status = err.Error()
		return
	}
	m.status = ""
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	if f == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

// resize keeps the log viewport in step with the session layout.
func (m *Model) resize() {
	if m.screen != screenSession {
		return
	}
	l := m.layout()
	m.logViewport.Width = l.viewportWidth
	m.logViewport.Height = l.viewportHeight
	m.input.Width = l.inputWidth
}

func startLiveCmd(app *config.Config) tea.Cmd {
	return func() tea.Msg {
		s, err := startSession(app, nil, "")
		if err != nil {
			return errMsg{err}
		}
		return sessionStartedMsg{session: s}
	}
}

func startScenarioCmd(app *config.Config, path string, saveCopy bool) tea.Cmd {
	return func() tea.Msg {
		sc, err := lua.ReadScenario(path)
		if err != nil {
			return errMsg{fmt.Errorf("%s: %w", filepath.Base(path), err)}
		}

		finalPath := path
		if saveCopy {
			newPath, err := lua.SaveToRecent(sc, path, app.RecentDir)
			if err != nil {
				return errMsg{err}
			}
			finalPath = newPath
		}

		s, err := startSession(app, sc, finalPath)
		if err != nil {
			return errMsg{err}
		}
		return sessionStartedMsg{session: s}
	}
}

func saveCmd(sc *types.Scenario, recentDir string) tea.Cmd {
	return func() tea.Msg {
		// A name without the .lua suffix makes SaveToRecent generate the file.
		path, err := lua.SaveToRecent(sc, sc.Name, recentDir)
		if err != nil {
			return errMsg{err}
		}
		return savedMsg{path: path}
	}
}

type sessionStartedMsg struct {
	session *session
}

type errMsg struct{ err error }
type editorFinishedMsg struct{ err error }
type savedMsg struct{ path string }

type logMsg struct {
	from *engine.Logger
	line string
}

func waitForLog(logger *engine.Logger) tea.Cmd {
	return func() tea.Msg {
		ch := logger.Chan()
		if ch == nil {
			return nil
		}
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg{from: logger, line: line}
	}
}
