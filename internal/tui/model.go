// Package tui implements the watch dashboard: a bubbletea program that
// mirrors one run of the storyline service, fed by a REST snapshot and the
// SSE stream, with pause/resume/abort/reset controls.
package tui

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/eventlog"
)

// maxDashboardLog bounds the locally mirrored activity log. The service
// keeps its own cap; this one only protects the dashboard's memory when
// log_appended frames outpace snapshot refreshes.
const maxDashboardLog = 500

// Model is the dashboard's bubbletea model.
type Model struct {
	client *Client

	runID  string // empty tracks the service's default run
	runIDs []string

	snap       *engine.Snapshot
	connecting bool

	streamCh     <-chan StreamEvent
	streamCancel func()

	spinner     SpinnerModel
	logView     viewport.Model
	filterInput textinput.Model
	filtering   bool
	filterQuery string
	showPreview bool

	width  int
	height int
	ready  bool

	banner     string // transport trouble, cleared on recovery
	lastError  string // most recent command failure
	statusLine string // transient feedback (copied, command sent)
}

// New creates a dashboard model following the given run. An empty runID
// tracks the service's default run.
func New(client *Client, runID string) Model {
	filter := textinput.New()
	filter.Placeholder = "filter log..."
	filter.CharLimit = 128
	filter.Width = 32

	return Model{
		client:      client,
		runID:       runID,
		connecting:  true,
		spinner:     NewSpinner(),
		filterInput: filter,
	}
}

// Run starts the dashboard program and blocks until the user quits.
func Run(client *Client, runID string) error {
	p := tea.NewProgram(New(client, runID), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init starts the spinner, the first snapshot fetch, and the stream.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick(),
		fetchSnapshotCmd(m.client, m.runID),
		fetchRunListCmd(m.client),
		connectStreamCmd(m.client, m.runID),
	)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViews()
		m.ready = true
		return m, nil

	case SnapshotMsg:
		m.snap = msg.Snapshot
		if m.runID == "" && m.snap != nil {
			m.runID = m.snap.Run.ID
		}
		m.refreshLogView()
		return m, nil

	case RunListMsg:
		m.runIDs = msg.IDs
		return m, nil

	case StreamConnectedMsg:
		m.connecting = false
		m.banner = ""
		m.streamCh = msg.Ch
		m.streamCancel = msg.Cancel
		return m, waitForStreamEvent(msg.Ch)

	case StreamEventMsg:
		m.applyStreamEvent(msg.Event)
		return m, waitForStreamEvent(m.streamCh)

	case StreamClosedMsg:
		if m.streamCancel != nil {
			m.streamCancel()
			m.streamCancel = nil
		}
		m.connecting = true
		if msg.Err != nil {
			m.banner = fmt.Sprintf("stream lost: %v", msg.Err)
		} else if m.banner == "" {
			m.banner = "stream lost, reconnecting"
		}
		return m, reconnectAfterDelay()

	case ReconnectMsg:
		return m, tea.Batch(
			connectStreamCmd(m.client, m.runID),
			fetchSnapshotCmd(m.client, m.runID),
		)

	case CommandDoneMsg:
		if msg.Err != nil {
			m.lastError = fmt.Sprintf("%s failed: %v", msg.Command, msg.Err)
			return m, nil
		}
		m.lastError = ""
		m.statusLine = msg.Command + " sent"
		return m, fetchSnapshotCmd(m.client, m.runID)

	case CopiedMsg:
		if msg.Err != nil {
			m.lastError = fmt.Sprintf("copy failed: %v", msg.Err)
			return m, nil
		}
		switch msg.Result.Method {
		case "file":
			m.statusLine = "final post written to " + msg.Result.FilePath
		default:
			m.statusLine = "final post copied (" + string(msg.Result.Method) + ")"
		}
		return m, nil

	case SpinnerTickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKeyPress handles keyboard input. While the filter input is focused
// only escape and enter are intercepted.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.String() {
		case "esc":
			m.filtering = false
			m.filterQuery = ""
			m.filterInput.SetValue("")
			m.filterInput.Blur()
			m.refreshLogView()
			return m, nil
		case "enter":
			m.filtering = false
			m.filterQuery = m.filterInput.Value()
			m.filterInput.Blur()
			m.refreshLogView()
			return m, nil
		default:
			var cmd tea.Cmd
			m.filterInput, cmd = m.filterInput.Update(msg)
			m.filterQuery = m.filterInput.Value()
			m.refreshLogView()
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.streamCancel != nil {
			m.streamCancel()
		}
		return m, tea.Quit

	case "p":
		return m, commandCmd("pause", func(ctx context.Context) error {
			return m.client.Pause(ctx, m.runID)
		})

	case "r":
		return m, commandCmd("resume", func(ctx context.Context) error {
			return m.client.Resume(ctx, m.runID)
		})

	case "a":
		return m, commandCmd("abort", func(ctx context.Context) error {
			return m.client.Abort(ctx, m.runID, "aborted from dashboard")
		})

	case "R":
		return m, commandCmd("reset", func(ctx context.Context) error {
			return m.client.Reset(ctx, m.runID)
		})

	case "c":
		post := m.finalPost()
		if post == "" {
			m.statusLine = "no final post yet"
			return m, nil
		}
		return m, copyCmd(post)

	case "/":
		m.filtering = true
		m.filterInput.Focus()
		return m, textinput.Blink

	case "v":
		m.showPreview = !m.showPreview
		return m, nil

	case "tab":
		return m.cycleRun()

	case "up", "k":
		m.logView.ScrollUp(1)
		return m, nil

	case "down", "j":
		m.logView.ScrollDown(1)
		return m, nil

	case "pgup":
		m.logView.PageUp()
		return m, nil

	case "pgdown":
		m.logView.PageDown()
		return m, nil
	}

	return m, nil
}

// cycleRun switches the dashboard to the next tracked run.
func (m Model) cycleRun() (tea.Model, tea.Cmd) {
	if len(m.runIDs) == 0 {
		return m, fetchRunListCmd(m.client)
	}

	next := m.runIDs[0]
	for i, id := range m.runIDs {
		if id == m.runID {
			next = m.runIDs[(i+1)%len(m.runIDs)]
			break
		}
	}
	if next == m.runID {
		return m, fetchRunListCmd(m.client)
	}

	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.runID = next
	m.snap = nil
	m.connecting = true
	return m, tea.Batch(
		fetchSnapshotCmd(m.client, m.runID),
		connectStreamCmd(m.client, m.runID),
		fetchRunListCmd(m.client),
	)
}

// applyStreamEvent folds one SSE frame into the mirrored snapshot.
func (m *Model) applyStreamEvent(ev StreamEvent) {
	switch ev.Type {
	case "run_updated":
		var run core.Run
		if err := json.Unmarshal(ev.Data, &run); err != nil {
			return
		}
		if m.runID != "" && run.ID != m.runID {
			return
		}
		if m.snap == nil {
			m.snap = &engine.Snapshot{}
		}
		m.snap.Run = run
		m.banner = ""

	case "log_appended":
		var payload struct {
			RunID string         `json:"run_id"`
			Entry eventlog.Entry `json:"entry"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		if m.snap == nil || (m.runID != "" && payload.RunID != m.runID) {
			return
		}
		// Entry ids are monotonic; skip frames older than the snapshot.
		if n := len(m.snap.Log); n > 0 && payload.Entry.ID <= m.snap.Log[n-1].ID {
			return
		}
		m.snap.Log = append(m.snap.Log, payload.Entry)
		if len(m.snap.Log) > maxDashboardLog {
			m.snap.Log = m.snap.Log[len(m.snap.Log)-maxDashboardLog:]
		}
		m.refreshLogView()

	case "approval_requested":
		var payload struct {
			RunID   string `json:"run_id"`
			Content string `json:"content"`
			Prompt  string `json:"prompt"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		if m.snap == nil || (m.runID != "" && payload.RunID != m.runID) {
			return
		}
		m.snap.Run.Approval = core.ApprovalRequest{
			Awaiting: true,
			Content:  payload.Content,
			Prompt:   payload.Prompt,
		}

	case "run_finished":
		var payload struct {
			RunID  string      `json:"run_id"`
			Status core.Status `json:"status"`
			Error  string      `json:"error"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		if m.snap == nil || (m.runID != "" && payload.RunID != m.runID) {
			return
		}
		m.snap.Run.Status = payload.Status
		m.snap.Run.Error = payload.Error

	case "transport_error":
		var payload struct {
			Message string `json:"message"`
			Attempt int    `json:"attempt"`
			RetryIn string `json:"retry_in"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		m.banner = fmt.Sprintf("upstream stream lost: %s (attempt %d, retry in %s)",
			payload.Message, payload.Attempt, payload.RetryIn)

	case "command_failed":
		var payload struct {
			Command string `json:"command"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		m.lastError = fmt.Sprintf("%s failed upstream: %s", payload.Command, payload.Error)
	}
}

// finalPost returns the run's final post, if any.
func (m Model) finalPost() string {
	if m.snap == nil {
		return ""
	}
	return m.snap.Run.Outputs.FinalPost
}
