package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/storyline-ai/storyline/internal/clip"
	"github.com/storyline-ai/storyline/internal/engine"
)

// SnapshotMsg delivers a fresh run snapshot from the service.
type SnapshotMsg struct {
	Snapshot *engine.Snapshot
}

// RunListMsg delivers the ids of all tracked runs, for cycling.
type RunListMsg struct {
	IDs []string
}

// StreamEventMsg delivers one SSE frame.
type StreamEventMsg struct {
	Event StreamEvent
}

// StreamConnectedMsg signals the SSE stream is open.
type StreamConnectedMsg struct {
	Ch     <-chan StreamEvent
	Cancel func()
}

// StreamClosedMsg signals the SSE stream ended; the dashboard reconnects.
type StreamClosedMsg struct {
	Err error
}

// ReconnectMsg fires after the reconnect delay.
type ReconnectMsg struct{}

// CommandDoneMsg reports the outcome of a dispatched run command.
type CommandDoneMsg struct {
	Command string
	Err     error
}

// CopiedMsg reports the outcome of copying the final post.
type CopiedMsg struct {
	Result clip.Result
	Err    error
}

// SpinnerTickMsg updates the connecting spinner animation.
type SpinnerTickMsg time.Time

// reconnectDelay paces stream reconnects so a dead service doesn't spin the
// dashboard in a tight loop.
const reconnectDelay = 2 * time.Second

func fetchSnapshotCmd(client *Client, runID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var snap *engine.Snapshot
		var err error
		if runID == "" {
			snap, err = client.FetchDefault(ctx)
		} else {
			snap, err = client.FetchRun(ctx, runID)
		}
		if err != nil {
			return CommandDoneMsg{Command: "fetch", Err: err}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

func fetchRunListCmd(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snaps, err := client.ListRuns(ctx)
		if err != nil {
			return CommandDoneMsg{Command: "list", Err: err}
		}
		ids := make([]string, 0, len(snaps))
		for _, snap := range snaps {
			if snap.Run.ID != "" {
				ids = append(ids, snap.Run.ID)
			}
		}
		return RunListMsg{IDs: ids}
	}
}

func connectStreamCmd(client *Client, runID string) tea.Cmd {
	return func() tea.Msg {
		ch, cancel, err := client.Stream(context.Background(), runID)
		if err != nil {
			return StreamClosedMsg{Err: err}
		}
		return StreamConnectedMsg{Ch: ch, Cancel: cancel}
	}
}

// waitForStreamEvent blocks on the stream channel and surfaces the next
// frame, or the close.
func waitForStreamEvent(ch <-chan StreamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return StreamEventMsg{Event: ev}
	}
}

func reconnectAfterDelay() tea.Cmd {
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
		return ReconnectMsg{}
	})
}

func commandCmd(name string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return CommandDoneMsg{Command: name, Err: fn(ctx)}
	}
}

func copyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		result, err := clip.Copy(text)
		return CopiedMsg{Result: result, Err: err}
	}
}
