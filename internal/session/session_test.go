package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxkey/voxkey/internal/ipc"
)

// fakeChannel scripts broadcast outcomes per call.
type fakeChannel struct {
	mu       sync.Mutex
	results  []int
	commands []string
	clients  int
}

func (f *fakeChannel) Broadcast(commandType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, commandType)
	if len(f.results) == 0 {
		return 0
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

func (f *fakeChannel) ClientCount() int { return f.clients }

func (f *fakeChannel) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// fakeCommitter records commits and snapshots.
type fakeCommitter struct {
	committed []string
	commitErr error
	snapshot  string
}

func (f *fakeCommitter) Commit(_ context.Context, text string) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, text)
	return nil
}

func (f *fakeCommitter) Snapshot(context.Context) (string, error) {
	return f.snapshot, nil
}

// fakeRelauncher counts page relaunches.
type fakeRelauncher struct {
	calls []string
	err   error
}

func (f *fakeRelauncher) OpenURL(_ context.Context, url string) error {
	f.calls = append(f.calls, url)
	return f.err
}

// fakeIndicator records state feedback calls in order.
type fakeIndicator struct {
	events []string
}

func (f *fakeIndicator) ListeningStarted(context.Context) { f.events = append(f.events, "started") }
func (f *fakeIndicator) ListeningStopped(context.Context) { f.events = append(f.events, "stopped") }
func (f *fakeIndicator) Committed(context.Context)        { f.events = append(f.events, "committed") }
func (f *fakeIndicator) Error(_ context.Context, text string) {
	f.events = append(f.events, "error: "+text)
}

const captureURL = "http://127.0.0.1:8080/speech-persistent.html?token=test"

func TestToggleStartsListening(t *testing.T) {
	channel := &fakeChannel{results: []int{1}}
	controller := NewController(nil, channel, &fakeCommitter{}, &fakeRelauncher{}, nil, captureURL)

	resp := controller.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.True(t, resp.OK)
	require.Equal(t, "listening", resp.State)
	require.True(t, controller.Listening())
	require.Equal(t, []string{"START_LISTENING"}, channel.sent())
}

func TestToggleWhileListeningStops(t *testing.T) {
	channel := &fakeChannel{results: []int{1, 1}}
	controller := NewController(nil, channel, &fakeCommitter{}, &fakeRelauncher{}, nil, captureURL)

	_ = controller.Handle(context.Background(), ipc.Request{Command: "toggle"})
	resp := controller.Handle(context.Background(), ipc.Request{Command: "toggle"})

	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.False(t, controller.Listening())
	require.Equal(t, []string{"START_LISTENING", "STOP_LISTENING"}, channel.sent())
}

func TestStartWhileListeningIsIdempotent(t *testing.T) {
	channel := &fakeChannel{results: []int{1, 1}}
	controller := NewController(nil, channel, &fakeCommitter{}, &fakeRelauncher{}, nil, captureURL)

	_ = controller.Handle(context.Background(), ipc.Request{Command: "start"})
	resp := controller.Handle(context.Background(), ipc.Request{Command: "start"})

	require.True(t, resp.OK)
	require.Equal(t, "already listening", resp.Message)
	require.Equal(t, []string{"START_LISTENING"}, channel.sent())
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	channel := &fakeChannel{}
	controller := NewController(nil, channel, &fakeCommitter{}, &fakeRelauncher{}, nil, captureURL)

	resp := controller.Handle(context.Background(), ipc.Request{Command: "stop"})
	require.True(t, resp.OK)
	require.Equal(t, "not listening", resp.Message)
	require.Empty(t, channel.sent())
}

func TestDeliveryFailureRelaunchesExactlyOnce(t *testing.T) {
	channel := &fakeChannel{results: []int{0, 0, 0}}
	relauncher := &fakeRelauncher{}
	controller := NewController(nil, channel, &fakeCommitter{}, relauncher, nil, captureURL)

	// First failure relaunches the capture page.
	resp := controller.Handle(context.Background(), ipc.Request{Command: "start"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "relaunched capture page")
	require.Equal(t, []string{captureURL}, relauncher.calls)
	require.False(t, controller.Listening())

	// Second failure gives up with manual guidance, no second relaunch.
	resp = controller.Handle(context.Background(), ipc.Request{Command: "start"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "open "+captureURL+" manually")
	require.Len(t, relauncher.calls, 1)
}

func TestSuccessfulStartResetsRelaunchBudget(t *testing.T) {
	channel := &fakeChannel{results: []int{0, 1, 1, 0}}
	relauncher := &fakeRelauncher{}
	controller := NewController(nil, channel, &fakeCommitter{}, relauncher, nil, captureURL)

	_ = controller.Handle(context.Background(), ipc.Request{Command: "start"}) // fails, relaunch #1
	_ = controller.Handle(context.Background(), ipc.Request{Command: "start"}) // succeeds, resets budget
	_ = controller.Handle(context.Background(), ipc.Request{Command: "stop"})

	resp := controller.Handle(context.Background(), ipc.Request{Command: "start"}) // fails again
	require.False(t, resp.OK)
	require.Len(t, relauncher.calls, 2)
}

func TestRelaunchFailureSurfacesError(t *testing.T) {
	channel := &fakeChannel{results: []int{0}}
	relauncher := &fakeRelauncher{err: errors.New("browser missing")}
	controller := NewController(nil, channel, &fakeCommitter{}, relauncher, nil, captureURL)

	resp := controller.Handle(context.Background(), ipc.Request{Command: "start"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "relaunch capture page")
}

func TestHandleTranscriptCommitsAndStopsListening(t *testing.T) {
	channel := &fakeChannel{results: []int{1}}
	committer := &fakeCommitter{}
	controller := NewController(nil, channel, committer, &fakeRelauncher{}, nil, captureURL)

	_ = controller.Handle(context.Background(), ipc.Request{Command: "start"})
	require.True(t, controller.Listening())

	controller.HandleTranscript(context.Background(), "hello world")
	require.Equal(t, []string{"hello world"}, committer.committed)
	require.False(t, controller.Listening())
}

func TestHandleTranscriptCommitFailureKeepsState(t *testing.T) {
	channel := &fakeChannel{results: []int{1}}
	committer := &fakeCommitter{commitErr: errors.New("clipboard broken")}
	controller := NewController(nil, channel, committer, &fakeRelauncher{}, nil, captureURL)

	_ = controller.Handle(context.Background(), ipc.Request{Command: "start"})
	controller.HandleTranscript(context.Background(), "hello world")

	require.Empty(t, committer.committed)
	require.True(t, controller.Listening())
}

func TestStatusReportsStateAndClients(t *testing.T) {
	channel := &fakeChannel{results: []int{1}, clients: 1}
	controller := NewController(nil, channel, &fakeCommitter{}, &fakeRelauncher{}, nil, captureURL)

	resp := controller.Handle(context.Background(), ipc.Request{Command: "status"})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.Equal(t, 1, resp.Clients)

	_ = controller.Handle(context.Background(), ipc.Request{Command: "start"})
	resp = controller.Handle(context.Background(), ipc.Request{Command: "status"})
	require.Equal(t, "listening", resp.State)
}

func TestIndicatorFollowsDictationLifecycle(t *testing.T) {
	channel := &fakeChannel{results: []int{1, 1}}
	feedback := &fakeIndicator{}
	controller := NewController(nil, channel, &fakeCommitter{}, &fakeRelauncher{}, feedback, captureURL)

	_ = controller.Handle(context.Background(), ipc.Request{Command: "start"})
	controller.HandleTranscript(context.Background(), "hello")
	_ = controller.Handle(context.Background(), ipc.Request{Command: "start"})
	_ = controller.Handle(context.Background(), ipc.Request{Command: "stop"})

	require.Equal(t, []string{"started", "committed", "started", "stopped"}, feedback.events)
}

func TestUnknownCommandRejected(t *testing.T) {
	controller := NewController(nil, &fakeChannel{}, &fakeCommitter{}, &fakeRelauncher{}, nil, captureURL)

	resp := controller.Handle(context.Background(), ipc.Request{Command: "dance"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}
