package tui

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"slices"
	"strings"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/atotto/clipboard"

	"github.com/evanschultz/trackflow/internal/app"
	"github.com/evanschultz/trackflow/internal/domain"
)

// Service is the slice of the application service the board needs.
type Service interface {
	EnsureDefaultProject(context.Context) (domain.Project, error)
	Board(context.Context, domain.Kind, string) (app.Board, error)
}

// inputMode represents a selectable mode.
type inputMode int

// modeNone and related constants define package defaults.
const (
	modeNone inputMode = iota
	modeDetail
)

// Model is the terminal board. It turns key presses into gestures on the
// active board and redraws from the board state after every change.
type Model struct {
	svc Service

	kinds   []domain.Kind
	kindIdx int
	project domain.Project
	board   app.Board
	state   app.BoardState

	selectedColumn int
	selectedEntity int
	dragging       string
	over           string

	mode     inputMode
	detailID string
	detail   string

	status string
	err    error
	ready  bool
	width  int
	height int

	help     help.Model
	keys     keyMap
	markdown markdownRenderer
	copyText func(string) error
}

// loadedMsg carries one resolved board.
type loadedMsg struct {
	kind    domain.Kind
	project domain.Project
	board   app.Board
	err     error
}

// droppedMsg carries the outcome of a drop.
type droppedMsg struct {
	over   string
	result app.MoveResult
	err    error
}

// NewModel constructs a new value for this package.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:      svc,
		kinds:    domain.Kinds(),
		status:   "loading...",
		help:     h,
		keys:     newKeyMap(),
		copyText: clipboard.WriteAll,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init handles init.
func (m Model) Init() tea.Cmd {
	return m.loadBoard
}

// Update updates state for the requested operation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loadedMsg:
		if msg.kind != m.currentKind() {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.project = msg.project
		m.board = msg.board
		m.refresh()
		if m.state.Dragging != "" {
			m.status = "another client is dragging on this board"
		} else {
			m.status = "ready"
		}
		return m, nil

	case droppedMsg:
		m.refresh()
		if msg.result.EntityID != "" {
			m.focusEntity(msg.result.EntityID)
		}
		switch {
		case msg.err != nil && errors.Is(msg.err, app.ErrPersistence):
			m.status = "moved, write pending"
		case msg.err != nil:
			m.status = "drop failed: " + msg.err.Error()
		case msg.result.Moved:
			m.status = moveStatus(msg.result)
		case msg.over != "":
			m.status = "reordered"
		default:
			m.status = "nothing moved"
		}
		return m, nil

	case tea.KeyPressMsg:
		if m.mode == modeDetail {
			return m.handleDetailKey(msg)
		}
		return m.handleBoardKey(msg)

	default:
		return m, nil
	}
}

// handleBoardKey routes keys while the board is in focus.
func (m Model) handleBoardKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		if m.dragging != "" {
			_ = m.board.CancelGesture(context.Background())
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case m.err != nil && key.Matches(msg, m.keys.reload):
		m.err = nil
		m.status = "loading..."
		return m, m.loadBoard
	case m.board == nil:
		return m, nil
	}

	if m.dragging != "" {
		return m.handleDragKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.reload):
		m.status = "loading..."
		return m, m.loadBoard
	case key.Matches(msg, m.keys.switchBoard):
		m.kindIdx = (m.kindIdx + 1) % len(m.kinds)
		m.board = nil
		m.state = app.BoardState{}
		m.selectedColumn, m.selectedEntity = 0, 0
		m.status = "loading " + string(m.currentKind()) + "..."
		return m, m.loadBoard
	case key.Matches(msg, m.keys.columnLeft), key.Matches(msg, m.keys.hoverLeft):
		m.moveColumn(-1)
	case key.Matches(msg, m.keys.columnRight), key.Matches(msg, m.keys.hoverRight):
		m.moveColumn(1)
	case key.Matches(msg, m.keys.entityUp), key.Matches(msg, m.keys.hoverUp):
		m.moveEntity(-1)
	case key.Matches(msg, m.keys.entityDown), key.Matches(msg, m.keys.hoverDown):
		m.moveEntity(1)
	case key.Matches(msg, m.keys.grab):
		m.grab()
	case key.Matches(msg, m.keys.detail):
		m.openDetail()
	case key.Matches(msg, m.keys.copyID):
		m.copySelectedID()
	}
	return m, nil
}

// handleDragKey routes keys while an entity is grabbed.
func (m Model) handleDragKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.hoverLeft):
		m.hover(-1, 0)
	case key.Matches(msg, m.keys.hoverRight):
		m.hover(1, 0)
	case key.Matches(msg, m.keys.hoverUp):
		m.hover(0, -1)
	case key.Matches(msg, m.keys.hoverDown):
		m.hover(0, 1)
	case key.Matches(msg, m.keys.drop):
		over := m.over
		m.dragging, m.over = "", ""
		m.status = "dropping..."
		return m, m.dropCmd(over)
	case key.Matches(msg, m.keys.cancel):
		id := m.dragging
		m.dragging, m.over = "", ""
		switch err := m.board.CancelGesture(context.Background()); {
		case err == nil:
			m.status = "move cancelled"
		case errors.Is(err, app.ErrPersistence):
			m.status = "move cancelled, write pending"
		default:
			m.status = "cancel failed: " + err.Error()
		}
		m.refresh()
		m.focusEntity(id)
	case key.Matches(msg, m.keys.switchBoard), key.Matches(msg, m.keys.reload):
		m.status = "drop or cancel first"
	}
	return m, nil
}

// handleDetailKey closes the detail pane.
func (m Model) handleDetailKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.cancel), key.Matches(msg, m.keys.detail):
		m.mode = modeNone
		m.detailID, m.detail = "", ""
		m.status = "ready"
	case key.Matches(msg, m.keys.copyID):
		m.copyID(m.detailID)
	}
	return m, nil
}

// loadBoard resolves the board of the current kind. Kanban boards open the default project.
func (m Model) loadBoard() tea.Msg {
	ctx := context.Background()
	kind := m.currentKind()
	msg := loadedMsg{kind: kind}
	scopeID := ""
	if kind.Scoped() {
		project, err := m.svc.EnsureDefaultProject(ctx)
		if err != nil {
			msg.err = fmt.Errorf("open default project: %w", err)
			return msg
		}
		msg.project = project
		scopeID = project.ID
	}
	b, err := m.svc.Board(ctx, kind, scopeID)
	if err != nil {
		msg.err = fmt.Errorf("load %s board: %w", kind, err)
		return msg
	}
	msg.board = b
	return msg
}

// dropCmd ends the active gesture over the last hovered target.
func (m Model) dropCmd(overID string) tea.Cmd {
	b := m.board
	return func() tea.Msg {
		result, err := b.EndGesture(context.Background(), overID)
		return droppedMsg{over: overID, result: result, err: err}
	}
}

// currentKind returns the kind of the active board.
func (m Model) currentKind() domain.Kind {
	if len(m.kinds) == 0 {
		return domain.KindKanban
	}
	return m.kinds[clamp(m.kindIdx, 0, len(m.kinds)-1)]
}

// refresh re-reads the board state and keeps the cursor inside it.
func (m *Model) refresh() {
	if m.board == nil {
		return
	}
	m.state = m.board.State()
	m.clampSelections()
}

// clampSelections keeps the cursor on an existing column and entity.
func (m *Model) clampSelections() {
	m.selectedColumn = clamp(m.selectedColumn, 0, len(m.state.Containers)-1)
	if len(m.state.Containers) == 0 {
		m.selectedEntity = 0
		return
	}
	m.selectedEntity = clamp(m.selectedEntity, 0, len(m.state.Containers[m.selectedColumn].Entities)-1)
}

// moveColumn moves the cursor across columns.
func (m *Model) moveColumn(delta int) {
	m.selectedColumn += delta
	m.clampSelections()
}

// moveEntity moves the cursor inside the current column.
func (m *Model) moveEntity(delta int) {
	m.selectedEntity += delta
	m.clampSelections()
}

// selected returns the entity under the cursor.
func (m Model) selected() (app.EntityView, bool) {
	if m.selectedColumn < 0 || m.selectedColumn >= len(m.state.Containers) {
		return app.EntityView{}, false
	}
	entities := m.state.Containers[m.selectedColumn].Entities
	if m.selectedEntity < 0 || m.selectedEntity >= len(entities) {
		return app.EntityView{}, false
	}
	return entities[m.selectedEntity], true
}

// locate finds the column and row of an entity.
func (m Model) locate(entityID string) (int, int, bool) {
	for col, c := range m.state.Containers {
		for row, e := range c.Entities {
			if e.ID == entityID {
				return col, row, true
			}
		}
	}
	return 0, 0, false
}

// focusEntity puts the cursor on an entity when it is still on the board.
func (m *Model) focusEntity(entityID string) {
	if col, row, ok := m.locate(entityID); ok {
		m.selectedColumn, m.selectedEntity = col, row
	}
}

// grab starts a gesture on the entity under the cursor.
func (m *Model) grab() {
	ent, ok := m.selected()
	if !ok {
		m.status = "nothing to grab"
		return
	}
	if err := m.board.StartGesture(ent.ID); err != nil {
		m.status = "grab failed: " + err.Error()
		return
	}
	m.dragging, m.over = ent.ID, ""
	m.status = "dragging " + ent.Label
}

// hover previews the grabbed entity one step away. Sideways steps target the
// neighbouring column, vertical steps target the neighbouring entity.
func (m *Model) hover(dCol, dRow int) {
	col, row, ok := m.locate(m.dragging)
	if !ok {
		return
	}
	columns := m.state.Containers
	var target string
	if dCol != 0 {
		next := col + dCol
		if next < 0 || next >= len(columns) {
			return
		}
		target = columns[next].Container.ID
	} else {
		next := row + dRow
		if next < 0 || next >= len(columns[col].Entities) {
			return
		}
		target = columns[col].Entities[next].ID
	}
	if target == m.over {
		// A repeated target is ignored by the gesture; re-arm it through the current column.
		_, _ = m.board.Hover(columns[col].Container.ID)
	}
	if _, err := m.board.Hover(target); err != nil {
		m.status = "hover failed: " + err.Error()
		return
	}
	m.over = target
	m.refresh()
	m.focusEntity(m.dragging)
	m.status = "over " + m.state.Containers[m.selectedColumn].Container.Title
}

// openDetail renders the entity under the cursor into the detail pane.
func (m *Model) openDetail() {
	ent, ok := m.selected()
	if !ok {
		m.status = "nothing selected"
		return
	}
	view, err := m.board.Entity(ent.ID)
	if err != nil {
		m.status = "detail failed: " + err.Error()
		return
	}
	report, err := m.board.Durations(ent.ID)
	if err != nil {
		m.status = "detail failed: " + err.Error()
		return
	}
	m.mode = modeDetail
	m.detailID = ent.ID
	m.detail = m.markdown.render(detailMarkdown(view, report), max(40, m.width-8))
	m.status = "detail"
}

// copySelectedID copies the id of the entity under the cursor.
func (m *Model) copySelectedID() {
	ent, ok := m.selected()
	if !ok {
		m.status = "nothing selected"
		return
	}
	m.copyID(ent.ID)
}

func (m *Model) copyID(id string) {
	if err := m.copyText(id); err != nil {
		m.status = "copy failed: " + err.Error()
		return
	}
	m.status = "copied " + id
}

// detailMarkdown builds the markdown shown in the detail pane.
func detailMarkdown(view app.EntityView, report app.DurationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", view.Label)
	if body := strings.TrimSpace(view.Markdown); body != "" {
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "**%s** for %s, %s since created\n\n", view.ContainerTitle, domain.FormatDuration(report.CurrentStay), domain.FormatDuration(report.Lifetime))

	b.WriteString("## Time in stage\n\n")
	for _, stage := range report.Stages {
		suffix := ""
		if stage.Current {
			suffix = " (current)"
		}
		fmt.Fprintf(&b, "- %s: %s%s\n", stage.Title, domain.FormatDuration(stage.Total), suffix)
	}

	keys := make([]string, 0, len(view.Fields))
	for k := range view.Fields {
		switch k {
		case "title", "name", "description", "notes", "project_id":
			continue
		}
		if strings.TrimSpace(view.Fields[k]) != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		slices.Sort(keys)
		b.WriteString("\n## Fields\n\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, view.Fields[k])
		}
	}

	if len(view.Comments) > 0 {
		b.WriteString("\n## Comments\n\n")
		for _, c := range view.Comments {
			fmt.Fprintf(&b, "- **%s**: %s\n", c.Author, c.Body)
		}
	}
	if len(view.History) > 0 {
		b.WriteString("\n## History\n\n")
		for _, entry := range view.History {
			fmt.Fprintf(&b, "- %s %s %s\n", entry.Timestamp.Local().Format("2006-01-02 15:04"), entry.Action, entry.Details)
		}
	}
	return b.String()
}

// moveStatus formats the status line for a committed move.
func moveStatus(result app.MoveResult) string {
	if result.Entry != nil && result.Entry.Details != "" {
		return result.Entry.Details
	}
	return "moved " + result.Entity.Label
}

// clamp bounds v to [minV, maxV].
func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// View handles view.
func (m Model) View() tea.View {
	v := tea.NewView(m.render())
	v.AltScreen = true
	return v
}

// render draws the whole screen.
func (m Model) render() string {
	if m.err != nil {
		return "error: " + m.err.Error() + "\n\npress r to retry • q quit\n"
	}
	if !m.ready {
		return "loading..."
	}

	accent := lipgloss.Color("62")
	muted := lipgloss.Color("241")
	dim := lipgloss.Color("239")

	header := m.renderTabs(accent, muted)
	var body string
	if m.mode == modeDetail {
		body = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1).
			Width(max(0, m.width-2)).
			Render(m.detail)
	} else {
		body = m.renderColumns(accent, muted, dim)
	}

	statusLine := lipgloss.NewStyle().Foreground(dim).Render(m.status)
	if pending := m.pendingWrites(); pending > 0 {
		statusLine += lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Render(fmt.Sprintf("  %d write(s) pending", pending))
	}
	helpBubble := m.help
	helpBubble.SetWidth(max(0, m.width-2))
	helpLine := lipgloss.NewStyle().
		Foreground(muted).
		BorderTop(true).
		BorderForeground(dim).
		Padding(0, 1).
		Width(max(0, m.width)).
		Render(helpBubble.View(m.keys))

	content := header + "\n" + body + "\n" + statusLine
	if m.height > 0 {
		content = fitLines(content, max(0, m.height-lipgloss.Height(helpLine)))
	}
	return content + "\n" + helpLine
}

// renderTabs draws the board switcher.
func (m Model) renderTabs(accent, muted color.Color) string {
	active := lipgloss.NewStyle().Bold(true).Foreground(accent)
	inactive := lipgloss.NewStyle().Foreground(muted)
	tabs := make([]string, 0, len(m.kinds))
	for idx, kind := range m.kinds {
		label := string(kind)
		if idx == m.kindIdx {
			tabs = append(tabs, active.Render(label))
			continue
		}
		tabs = append(tabs, inactive.Render(label))
	}
	line := strings.Join(tabs, "  ")
	if m.currentKind().Scoped() && m.project.Name != "" {
		line += inactive.Render("  · " + m.project.Name)
	}
	return line
}

// renderColumns draws every container with its entities.
func (m Model) renderColumns(accent, muted, dim color.Color) string {
	if len(m.state.Containers) == 0 {
		return lipgloss.NewStyle().Foreground(muted).Render("no stages on this board")
	}
	colWidth := 24
	if n := len(m.state.Containers); m.width > 0 {
		colWidth = max(16, m.width/n-2)
	}
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	draggingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("237")).Bold(true)
	itemStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	views := make([]string, 0, len(m.state.Containers))
	for colIdx, column := range m.state.Containers {
		border := dim
		if colIdx == m.selectedColumn {
			border = accent
		}
		titleColor := accent
		if c := strings.TrimSpace(column.Container.Color); c != "" {
			titleColor = lipgloss.Color(c)
		}
		lines := []string{
			lipgloss.NewStyle().Bold(true).Foreground(titleColor).Render(fmt.Sprintf("%s (%d)", column.Container.Title, len(column.Entities))),
			"",
		}
		for rowIdx, ent := range column.Entities {
			label := truncate(ent.Label, colWidth-4)
			switch {
			case ent.ID == m.dragging:
				lines = append(lines, draggingStyle.Render("» "+label))
			case colIdx == m.selectedColumn && rowIdx == m.selectedEntity:
				lines = append(lines, selectedStyle.Render("> "+label))
			default:
				lines = append(lines, itemStyle.Render("  "+label))
			}
		}
		if len(column.Entities) == 0 {
			lines = append(lines, lipgloss.NewStyle().Foreground(muted).Render("  (empty)"))
		}
		views = append(views, lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1).
			Width(colWidth).
			Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, views...)
}

// pendingWrites reports queued writes of the active board.
func (m Model) pendingWrites() int {
	if m.board == nil {
		return 0
	}
	return m.board.Pending()
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if n <= 1 || len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// fitLines pads or trims content to exactly maxLines lines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		lines = append(lines, make([]string, maxLines-len(lines))...)
	}
	return strings.Join(lines, "\n")
}
