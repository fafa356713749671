package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tmsync/internal/storage"
)

// Dashboard panel indices.
const (
	panelLedger = iota
	panelMetrics
	panelAlerts
	panelCount
)

// dashboardRefresh is how often the dashboard reloads on its own.
const dashboardRefresh = 5 * time.Second

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	tags        []tagSnapshot
	metricsData *metricsSnapshot
	alerts      []alertSnapshot
	activeLocks int
	rateBudget  string
	loadedAt    time.Time

	loading bool
	err     error
}

type tagSnapshot struct {
	tag     string
	synced  int
	failing int
}

type metricsSnapshot struct {
	cycles       int
	tasksSynced  int
	issuesSynced int
	failures     int
	successRate  float64
	lastCycle    *time.Time
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	tags        []tagSnapshot
	metrics     *metricsSnapshot
	alerts      []alertSnapshot
	activeLocks int
	rateBudget  string
	loadedAt    time.Time
	err         error
}

type tickMsg time.Time

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelLedger,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(loadData, tick())
}

func tick() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(loadData, tick())

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.tags = msg.tags
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.activeLocks = msg.activeLocks
		m.rateBudget = msg.rateBudget
		m.loadedAt = msg.loadedAt
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" tmsync ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading && m.loadedAt.IsZero() {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	ledgerPanel := m.renderLedgerPanel()
	metricsPanel := m.renderMetricsPanel()
	alertsPanel := m.renderAlertsPanel()

	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		ledgerPanel = m.applyPanelStyle(panelLedger, ledgerPanel, colWidth-4)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, colWidth-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, ledgerPanel, metricsPanel, alertsPanel)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		ledgerPanel = m.applyPanelStyle(panelLedger, ledgerPanel, panelWidth)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, ledgerPanel, metricsPanel, alertsPanel)
	}

	footer := fmt.Sprintf("locks held: %d", m.activeLocks)
	if m.rateBudget != "" {
		footer += " | tokens: " + m.rateBudget
	}
	footer += " | updated " + m.loadedAt.Format("15:04:05")
	return fmt.Sprintf("%s\n\n%s\n\n%s\n%s", title, body, mutedStyle.Render(footer), help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderLedgerPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Tags"))
	b.WriteString("\n\n")

	if len(m.tags) == 0 {
		b.WriteString("  No tasks synced yet.")
		return b.String()
	}

	synced, failing := 0, 0
	for _, t := range m.tags {
		line := fmt.Sprintf("  %-16s %3d ok", t.tag, t.synced)
		b.WriteString(syncedStyle.Render(line))
		if t.failing > 0 {
			b.WriteString(failedStyle.Render(fmt.Sprintf("  %d failing", t.failing)))
		}
		b.WriteString("\n")
		synced += t.synced
		failing += t.failing
	}
	b.WriteString(fmt.Sprintf("\n  Total: %d ok, %d failing", synced, failing))

	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (24h)"))
	b.WriteString("\n\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "Cycles", md.cycles))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "Tasks pushed", md.tasksSynced))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "Issues pulled", md.issuesSynced))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "Failures", md.failures))
	b.WriteString(fmt.Sprintf("  %-14s %.1f%%\n", "Success", md.successRate))
	if md.lastCycle != nil {
		b.WriteString(fmt.Sprintf("  %-14s %s\n", "Last cycle", md.lastCycle.Format("15:04:05")))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func loadData() tea.Msg {
	now := time.Now().UTC()
	result := dataLoadedMsg{loadedAt: now}

	if SyncState != nil {
		records, err := SyncState.All()
		if err != nil {
			result.err = fmt.Errorf("loading sync state: %w", err)
			return result
		}
		result.tags = summarizeTags(records)
	}

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(now.Add(-24 * time.Hour))
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			cycles:       metrics.Cycles,
			tasksSynced:  metrics.TasksSynced,
			issuesSynced: metrics.IssuesSynced,
			failures:     metrics.TaskErrors + metrics.IssueErrors + metrics.TagErrors,
			successRate:  metrics.SuccessRate(),
			lastCycle:    metrics.LastCycle,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))
		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	if Engine != nil {
		result.activeLocks = len(Engine.Locks().Active())
	}
	if Limiter != nil {
		result.rateBudget = formatRateBudget(Limiter)
	}

	return result
}

// formatRateBudget lists the whole tokens left per service.
func formatRateBudget(l RateBudget) string {
	services := l.Services()
	parts := make([]string, 0, len(services))
	for _, s := range services {
		parts = append(parts, fmt.Sprintf("%s %d", s, int(l.Tokens(s))))
	}
	return strings.Join(parts, ", ")
}

// summarizeTags counts synced and failing ledger records per tag.
func summarizeTags(records []storage.SyncRecord) []tagSnapshot {
	byTag := make(map[string]*tagSnapshot)
	for _, r := range records {
		s, ok := byTag[r.Tag]
		if !ok {
			s = &tagSnapshot{tag: r.Tag}
			byTag[r.Tag] = s
		}
		if r.Failed() {
			s.failing++
		} else {
			s.synced++
		}
	}
	out := make([]tagSnapshot, 0, len(byTag))
	for _, s := range byTag {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tag < out[j].tag })
	return out
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for sync state, metrics and alerts",
	Long: `Launch an interactive terminal dashboard showing per-tag sync state,
recent metrics and active alerts. The view refreshes every few seconds.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if SyncState == nil && MetricsCalc == nil {
			return fmt.Errorf("sync state and metrics not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
