package cli

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"yt-audio-ingest/internal/playlist"
)

var errSelectionCancelled = errors.New("playlist selection cancelled")

var (
	pickerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pickerMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pickerErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	pickerPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	pickerSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

type pickerModel struct {
	overviews []playlist.Overview
	input     textinput.Model
	cursor    int
	width     int
	height    int

	selected  []int
	cancelled bool
	errText   string
}

func newPickerModel(overviews []playlist.Overview) pickerModel {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "all"
	input.CharLimit = 1024
	input.Width = 60
	input.Focus()
	return pickerModel{overviews: overviews, input: input}
}

func (m pickerModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = clampInt(msg.Width-8, 20, 120)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "up":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down":
			if m.cursor < len(m.overviews)-1 {
				m.cursor++
			}
			return m, nil
		case "tab", "ctrl+t":
			m.toggleCursor()
			return m, nil
		case "enter":
			sel, err := parseSelection(m.input.Value(), m.overviews)
			if err != nil {
				m.errText = err.Error()
				return m, nil
			}
			m.errText = ""
			m.selected = sel
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// toggleCursor adds or removes the highlighted row number in the input.
func (m *pickerModel) toggleCursor() {
	if len(m.overviews) == 0 {
		return
	}
	num := strconv.Itoa(m.cursor + 1)
	tokens := make([]string, 0, len(m.overviews))
	for _, part := range strings.Split(m.input.Value(), ",") {
		if t := strings.TrimSpace(part); t != "" && !isSelectAll(t) {
			tokens = append(tokens, t)
		}
	}
	if i := slices.Index(tokens, num); i >= 0 {
		tokens = slices.Delete(tokens, i, i+1)
	} else {
		tokens = append(tokens, num)
	}
	m.input.SetValue(strings.Join(tokens, ", "))
	m.input.CursorEnd()
}

func (m pickerModel) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}
	header := pickerTitleStyle.Render("Select playlists to ingest") + "\n" +
		pickerMutedStyle.Render("numbers or names, comma separated | a/all or empty: everything | up/down + tab: toggle row | enter: start | esc: cancel")

	maxRows := clampInt(m.height-10, 4, 24)
	start, end := listWindow(len(m.overviews), m.cursor, maxRows)
	lines := make([]string, 0, maxRows+2)
	if start > 0 {
		lines = append(lines, pickerMutedStyle.Render("..."))
	}
	for i := start; i < end; i++ {
		line := truncateRunes(fmt.Sprintf("%2d. %s  %s", i+1, m.overviews[i].Title, overviewDetail(m.overviews[i])), width-6)
		if i == m.cursor {
			line = pickerSelStyle.Width(width - 4).Render(line)
		}
		lines = append(lines, line)
	}
	if end < len(m.overviews) {
		lines = append(lines, pickerMutedStyle.Render("..."))
	}
	panel := pickerPanelStyle.Width(width).Render(strings.Join(lines, "\n"))

	footer := m.input.View()
	if m.errText != "" {
		footer += "\n" + pickerErrorStyle.Render(m.errText)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, panel, footer)
}

func overviewDetail(ov playlist.Overview) string {
	switch {
	case ov.Entries > 0:
		return fmt.Sprintf("(%d items)", ov.Entries)
	case ov.Cached:
		return "(cached)"
	default:
		return ""
	}
}

// pickPlaylists asks the operator which playlists to ingest. Without a
// terminal every playlist is selected.
func pickPlaylists(overviews []playlist.Overview) ([]int, error) {
	if len(overviews) <= 1 || !stdinIsTTY() {
		return allIndexes(len(overviews)), nil
	}
	p := tea.NewProgram(newPickerModel(overviews), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	fm, ok := final.(pickerModel)
	if !ok || fm.cancelled {
		return nil, errSelectionCancelled
	}
	return fm.selected, nil
}
