package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/types"
)

type screen int

const (
	screenSourceSelect screen = iota
	screenFilePicker
	screenLoading
	screenSession
)

type sourceType int

const (
	sourceLive sourceType = iota
	sourceLua
)

// focus is the session panel that receives keys.
type focus int

const (
	focusInput focus = iota
	focusControls
	focusLogs
	focusCount
)

type Model struct {
	screen screen
	source sourceType

	app *config.Config
	err error

	// fileBrowser for selecting Lua scenarios
	fileBrowser FileBrowser

	width        int
	height       int
	selectedFile string

	menuCursor int // 0: live, 1: Lua
	focus      focus

	version string

	session       *session
	role          types.Role // sender of typed messages
	controlCursor int
	input         textinput.Model
	logViewport   viewport.Model
	logContent    string // cached log content for editor
	status        string
}

const (
	minWindowWidth   = 80
	minWindowHeight  = 24
	controlsWidth    = 28
	footerHeight     = 3
	inputHeight      = 3
	consoleMinHeight = 6
)
