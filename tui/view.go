package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/scpsim/stats"
	"github.com/samaelod/scpsim/types"
)

// sessionLayout holds the outer sizes of the session panels, borders included.
type sessionLayout struct {
	width      int
	bodyHeight int
	rightWidth int

	consoleHeight int
	logsHeight    int

	viewportWidth  int
	viewportHeight int
	inputWidth     int
}

func (m Model) layout() sessionLayout {
	w := m.width - 4
	h := m.height - 4

	l := sessionLayout{width: w}
	l.bodyHeight = max(h-1-footerHeight-inputHeight, 0) // -1 for title
	l.rightWidth = max(w-controlsWidth, 0)

	// Logs grow when focused.
	pct := 45
	if m.focus == focusLogs {
		pct = 30
	}
	l.consoleHeight = max(l.bodyHeight*pct/100, consoleMinHeight)
	l.logsHeight = max(l.bodyHeight-l.consoleHeight, 0)

	// -2 border -2 padding -1 scrollbar -2 slack
	l.viewportWidth = max(l.rightWidth-7, 0)
	// -2 border -1 title -1 margin -1 slack
	l.viewportHeight = max(l.logsHeight-5, 0)
	// prompt, role tag and panel chrome
	l.inputWidth = max(w-16, 0)
	return l
}

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()

	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}

	thumbPos := int(float64(trackHeight-1) * vp.ScrollPercent())
	thumbPos = clamp(thumbPos, 0, trackHeight-1)

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

func (m Model) View() string {
	var content string

	// Window border (2) + padding (2) + margin (2) = ~6 vertical space used by chrome
	windowWidth := m.width - 4
	windowHeight := m.height - 4

	if windowWidth < minWindowWidth || windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	appTitle := styleAppTitle.Width(windowWidth).Render("SCPSIM " + m.version)

	switch m.screen {

	case screenSourceSelect:
		menuTitle := styleTitle.Render("Select Source")

		cardLive, cardLua := styleMenuItem, styleMenuItem
		if m.menuCursor == 0 {
			cardLive = styleMenuItemSelected
		} else {
			cardLua = styleMenuItemSelected
		}

		menuContent := lipgloss.JoinVertical(lipgloss.Center,
			menuTitle,
			"\n",
			lipgloss.JoinHorizontal(lipgloss.Center,
				cardLive.Render("Live Session"),
				cardLua.Render("Lua Scenario"),
			),
		)

		content = lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.Place(
				windowWidth, windowHeight-1,
				lipgloss.Center, lipgloss.Center,
				styleMenuContainer.Render(menuContent),
			),
		)

	case screenFilePicker:
		// Split View: Browser (1/3) | Preview (2/3)
		listWidth := windowWidth / 3
		previewWidth := windowWidth - listWidth
		panelHeight := windowHeight - 1

		browserColor := colorSecondary
		if m.fileBrowser.HasValidFilesInDir(m.fileBrowser.CurrentDir) {
			browserColor = colorSuccess
		}

		previewColor := colorSecondary
		if fi, ok := m.fileBrowser.List.SelectedItem().(fileItem); ok && !fi.isDir {
			if m.fileBrowser.SelectedHasValidExtension() && !m.fileBrowser.PreviewErr {
				previewColor = colorSuccess
			} else {
				previewColor = colorError
			}
		}

		browserTitle := styleTitle.MarginBottom(1).Render("Select Scenario")
		browserView := stylePanelTitled.
			BorderForeground(browserColor).
			Width(listWidth - 4).
			Height(panelHeight).
			Render(browserTitle + "\n" + m.fileBrowser.View())

		previewTitle := styleTitle.MarginBottom(1).Render("Scenario Preview")

		contentHeight := panelHeight - 5 // -2 border, -1 title, -1 margin, -1 dots
		previewLines := strings.Split(m.fileBrowser.PreviewContent, "\n")
		if len(previewLines) > contentHeight && contentHeight > 1 {
			previewLines = append(previewLines[:contentHeight-1], "...")
		}

		previewView := stylePanelTitled.
			BorderForeground(previewColor).
			Width(previewWidth).
			Height(panelHeight).
			Render(previewTitle + "\n" + strings.Join(previewLines, "\n"))

		content = lipgloss.Place(
			windowWidth, windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Top,
				appTitle,
				lipgloss.JoinHorizontal(lipgloss.Top, browserView, previewView),
			),
		)

	case screenLoading:
		status := "Starting session..."
		if m.err != nil {
			status = styleErr.Render("Error: "+m.err.Error()) + "\n\n" + styleSubtext.Render("esc to go back")
		}

		content = lipgloss.Place(
			windowWidth, windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, appTitle, "\n", status),
		)

	case screenSession:
		content = lipgloss.JoinVertical(lipgloss.Top, appTitle, m.viewSession())
	}

	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m Model) viewSession() string {
	l := m.layout()
	s := m.session

	focusColor := func(f focus) lipgloss.Color {
		if m.focus == f {
			return colorSecondary
		}
		return colorSubtext
	}

	// Left column: knobs, in-flight messages, stats
	controlsView := stylePanelTitled.
		BorderForeground(focusColor(focusControls)).
		Width(controlsWidth - 2).
		Height(l.bodyHeight - 2).
		Render(m.renderControls(controlsWidth-4, l.bodyHeight-2))

	// Right top: one console per side
	consoleWidth := l.rightWidth / 2
	clientView := renderConsole(types.RoleClient, s.console.Lines(types.RoleClient), consoleWidth, l.consoleHeight)
	serverView := renderConsole(types.RoleServer, s.console.Lines(types.RoleServer), l.rightWidth-consoleWidth, l.consoleHeight)
	consoles := lipgloss.JoinHorizontal(lipgloss.Top, clientView, serverView)

	// Right bottom: event log
	logsTitle := styleTitle.MarginBottom(1).Render("Event Log")
	scrollbar := scrollbarTrack.Width(1).Render(renderScrollbar(m.logViewport, l.viewportHeight))
	logsContent := logsTitle + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, m.logViewport.View(), scrollbar)
	logsView := stylePanelTitled.
		BorderForeground(focusColor(focusLogs)).
		Width(l.rightWidth - 2).
		Height(l.logsHeight - 2).
		Render(logsContent)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		controlsView,
		lipgloss.JoinVertical(lipgloss.Top, consoles, logsView),
	)

	// Message input with the sending role
	roleTag := lipgloss.NewStyle().
		Foreground(roleColor(string(m.role))).
		Bold(true).
		Render(fmt.Sprintf("[%s]", m.role.Title()))
	inputView := stylePanelTitled.
		BorderForeground(focusColor(focusInput)).
		Width(l.width - 2).
		Render(roleTag + " " + m.input.View())

	return lipgloss.JoinVertical(lipgloss.Top, body, inputView, m.renderFooter(l.width))
}

func (m Model) renderControls(width, height int) string {
	net := m.session.cfg.Get()

	lines := []string{styleTitle.Render("Network"), ""}
	for i, c := range controls {
		label := styleLabel.Render(c.label)
		value := styleValue.Render(c.value(net))
		if m.focus == focusControls && i == m.controlCursor {
			label = styleSelected.Width(10).Render("> " + c.label)
			value = styleSelected.Render("‹ " + c.value(net) + " ›")
		}
		lines = append(lines, label+value)
	}

	lines = append(lines, "", styleTitle.Render("In flight"))
	tracked := m.session.engine.Tracked()
	if len(tracked) == 0 {
		lines = append(lines, styleSubtext.Render("none"))
	}
	for _, msg := range tracked {
		line := fmt.Sprintf("%s try %d %q", msg.Key(), msg.Attempt, msg.Payload)
		lines = append(lines, lipgloss.NewStyle().
			Foreground(roleColor(string(msg.Role))).
			Render(truncate(line, width)))
	}

	lines = append(lines, "", styleTitle.Render("Stats"))
	for _, line := range renderStats(m.session.stats.Summary()) {
		lines = append(lines, truncate(line, width))
	}

	if m.err != nil {
		lines = append(lines, "", styleErr.Render(truncate(m.err.Error(), width)))
	} else if m.status != "" {
		lines = append(lines, "", styleSubtext.Render(truncate(m.status, width)))
	}

	if height > 0 && len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func renderStats(s stats.Summary) []string {
	lines := []string{
		fmt.Sprintf("sent %d  ok %d  fail %d", s.Submitted, s.Delivered, s.Failed),
		fmt.Sprintf("lost %d  timeouts %d", s.Losses, s.Timeouts),
	}
	if math.IsNaN(s.DeliveryRatio) {
		return append(lines, styleSubtext.Render("no outcomes yet"))
	}
	return append(lines,
		fmt.Sprintf("delivered %.1f%%", s.DeliveryRatio*100),
		fmt.Sprintf("tries avg %.2f sd %.2f", s.MeanAttempts, s.StdDevAttempts),
	)
}

func renderConsole(role types.Role, lines []string, width, height int) string {
	title := lipgloss.NewStyle().
		Background(roleColor(string(role))).
		Foreground(colorText).
		Bold(true).
		Padding(0, 1).
		MarginBottom(1).
		Render(role.Title())

	innerWidth := width - 4
	avail := height - 4 // -2 border, -1 title, -1 margin
	if avail < 0 {
		avail = 0
	}
	if len(lines) > avail {
		lines = lines[len(lines)-avail:]
	}

	rendered := make([]string, len(lines))
	for i, line := range lines {
		line = truncate(line, innerWidth)
		if strings.HasPrefix(line, "--") {
			line = styleLoss.Render(line)
		}
		rendered[i] = line
	}

	return stylePanelTitled.
		Width(width - 2).
		Height(height - 2).
		Render(title + "\n" + strings.Join(rendered, "\n"))
}

func (m Model) renderFooter(width int) string {
	keyStyle := lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(colorSubtext)
	sep := descStyle.Render(" • ")

	hint := func(key, desc string) string {
		return keyStyle.Render(key) + descStyle.Render(" "+desc)
	}

	hints := []string{hint("<tab>", "focus")}
	switch m.focus {
	case focusInput:
		hints = append(hints, hint("enter", "send"), hint("ctrl+r", "role"))
	case focusControls:
		hints = append(hints, hint("↑/↓", "select"), hint("←/→", "adjust"), hint("space", "loss"))
		if m.selectedFile != "" {
			hints = append(hints, hint("e", "edit scenario"))
		}
	case focusLogs:
		hints = append(hints, hint("e", "editor"), hint("g/G", "top/bottom"))
	}
	hints = append(hints, hint("ctrl+l", "clear"), hint("ctrl+s", "save"))
	if m.focus != focusInput {
		hints = append(hints, hint("q", "quit"))
	} else {
		hints = append(hints, hint("ctrl+c", "quit"))
	}

	footer := strings.Join(hints, sep)

	return lipgloss.NewStyle().
		Border(lipgloss.ThickBorder()).
		BorderForeground(colorSubtext).
		Padding(0, 1).
		Width(width - 2).
		Render(footer)
}
