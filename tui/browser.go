package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/scpsim/lua"
)

type FileBrowser struct {
	List           list.Model
	CurrentDir     string
	Selected       string
	PreviewContent string
	PreviewErr     bool // selected scenario does not load
	Height         int
	Width          int
	Err            error
	AllowedTypes   []string
}

type fileItem struct {
	name  string
	path  string
	isDir bool
	info  os.FileInfo
}

func (i fileItem) Title() string {
	if i.isDir {
		return i.name + "/"
	}
	return i.name
}
func (i fileItem) Description() string {
	if i.isDir || i.info == nil {
		return "Directory"
	}
	return fmt.Sprintf("File • %d bytes", i.info.Size())
}
func (i fileItem) FilterValue() string { return i.name }

type browserDelegate struct {
	allowed func(name string) bool
}

func (d browserDelegate) Height() int                               { return 1 }
func (d browserDelegate) Spacing() int                              { return 0 }
func (d browserDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d browserDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(fileItem)
	if !ok {
		return
	}

	str := i.Title()

	var style lipgloss.Style
	switch {
	case index == m.Index():
		style = styleSelected
		str = "> " + str
	case i.isDir:
		style = lipgloss.NewStyle().Foreground(colorText).Bold(true)
		str = "  " + str
	case d.allowed(i.name):
		style = lipgloss.NewStyle().Foreground(colorPrimary)
		str = "  " + str
	default:
		style = styleSubtext.Faint(true)
		str = "  " + str
	}

	fmt.Fprint(w, style.Render(str))
}

func NewFileBrowser(allowedTypes []string) FileBrowser {
	cwd, _ := os.Getwd()

	fb := FileBrowser{
		CurrentDir:   cwd,
		AllowedTypes: allowedTypes,
	}

	l := list.New([]list.Item{}, browserDelegate{allowed: fb.allowed}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = styleTitle

	fb.List = l
	fb.refreshDir()
	return fb
}

// allowed reports whether name has one of the browser's extensions.
func (fb FileBrowser) allowed(name string) bool {
	nameLower := strings.ToLower(name)
	for _, ext := range fb.AllowedTypes {
		if strings.HasSuffix(nameLower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func (fb *FileBrowser) refreshDir() {
	entries, err := os.ReadDir(fb.CurrentDir)
	if err != nil {
		fb.Err = err
		return
	}
	fb.Err = nil

	items := []list.Item{}

	if filepath.Dir(fb.CurrentDir) != fb.CurrentDir {
		items = append(items, fileItem{name: "..", path: filepath.Dir(fb.CurrentDir), isDir: true})
	}

	// Dirs first, then files
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}

		info, _ := e.Info()
		items = append(items, fileItem{
			name:  e.Name(),
			path:  filepath.Join(fb.CurrentDir, e.Name()),
			isDir: e.IsDir(),
			info:  info,
		})
	}

	fb.List.SetItems(items)
	fb.updatePreview()
}

func (fb *FileBrowser) HasValidFilesInDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if fb.allowed(e.Name()) {
			return true
		}
	}
	return false
}

func (fb *FileBrowser) SelectedHasValidExtension() bool {
	return fb.Selected != "" && fb.allowed(fb.Selected)
}

// updatePreview shows a summary of the selected scenario above its source,
// or the load error when the scenario is invalid.
func (fb *FileBrowser) updatePreview() {
	fb.PreviewErr = false

	item := fb.List.SelectedItem()
	if item == nil {
		fb.PreviewContent = ""
		return
	}

	fi := item.(fileItem)
	if fi.isDir {
		fb.PreviewContent = "Directory: " + fi.name
		return
	}

	fb.Selected = fi.path

	if !fb.allowed(fi.name) {
		fb.PreviewContent = "File type not supported."
		return
	}

	content, err := os.ReadFile(fi.path)
	if err != nil {
		fb.PreviewContent = "Error reading file"
		return
	}

	var header string
	sc, err := lua.ReadScenarioString(string(content))
	if err != nil {
		fb.PreviewErr = true
		header = "Invalid scenario: " + err.Error()
	} else {
		name := sc.Name
		if name == "" {
			name = strings.TrimSuffix(fi.name, filepath.Ext(fi.name))
		}
		header = fmt.Sprintf("Scenario %q • %d messages • %d changes • delay %dms • loss %d%% • timeout %dms • retries %d",
			name, len(sc.Messages), len(sc.Changes),
			sc.Network.ForwardDelayMs, sc.Network.LossPercent, sc.Network.AckTimeoutMs, sc.Network.MaxRetries)
	}

	contentStr := header + "\n\n" + string(content)

	// Ensure we don't exceed visual height
	lines := strings.Split(contentStr, "\n")
	maxLines := fb.Height
	if maxLines <= 0 {
		maxLines = 10
	}
	if len(lines) > maxLines {
		contentStr = strings.Join(lines[:maxLines], "\n") + "\n... (truncated)"
	}

	fb.PreviewContent = contentStr
}

func (fb FileBrowser) Update(msg tea.Msg) (FileBrowser, tea.Cmd) {
	var cmd tea.Cmd
	fb.List, cmd = fb.List.Update(msg)

	// The list has no cursor-moved message, so refresh on every update.
	fb.updatePreview()

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			// Files are handled by the parent.
			if fi, ok := fb.List.SelectedItem().(fileItem); ok && fi.isDir {
				fb.CurrentDir = fi.path
				fb.refreshDir()
				fb.List.ResetSelected()
			}
		case "backspace", "left":
			parent := filepath.Dir(fb.CurrentDir)
			if parent != fb.CurrentDir {
				fb.CurrentDir = parent
				fb.refreshDir()
				fb.List.ResetSelected()
			}
		}
	}

	return fb, cmd
}

func (fb *FileBrowser) SetSize(width, height int) {
	fb.Width = width
	fb.Height = height
	fb.List.SetSize(width, height)
}

func (fb FileBrowser) View() string {
	return fb.List.View()
}
