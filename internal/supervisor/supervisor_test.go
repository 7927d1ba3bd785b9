package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwave/arbicore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	launchErr error

	mu       sync.Mutex
	signaled bool
	killed   bool
	waitCh   chan struct{}
	exitErr  error
	stderr   string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{waitCh: make(chan struct{})}
}

func (a *fakeAdapter) Launch(ctx context.Context, desc domain.BotDescriptor, config map[string]string) error {
	return a.launchErr
}

func (a *fakeAdapter) Signal() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signaled = true
	return nil
}

func (a *fakeAdapter) Kill() error {
	a.mu.Lock()
	a.killed = true
	a.mu.Unlock()
	a.closeWait()
	return nil
}

func (a *fakeAdapter) closeWait() {
	select {
	case <-a.waitCh:
	default:
		close(a.waitCh)
	}
}

func (a *fakeAdapter) Wait() (error, string) {
	<-a.waitCh
	return a.exitErr, a.stderr
}

func (a *fakeAdapter) Alive() bool {
	select {
	case <-a.waitCh:
		return false
	default:
		return true
	}
}

func (a *fakeAdapter) wasSignaled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signaled
}

func (a *fakeAdapter) wasKilled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.killed
}

func TestStartLaunchesAndMonitorsBot(t *testing.T) {
	adapter := newFakeAdapter()
	events := make(chan domain.BotStatus, 1)
	sup := New(
		func(domain.BotDescriptor) (BotAdapter, error) { return adapter, nil },
		func(botID string, status domain.BotStatus, detail string) { events <- status },
		testLogger(),
	)

	err := sup.Start(context.Background(), domain.BotDescriptor{BotID: "bot-1"}, nil)
	require.NoError(t, err)

	adapter.closeWait() // simulate normal exit
	select {
	case status := <-events:
		assert.Equal(t, domain.BotStopped, status)
	case <-time.After(time.Second):
		t.Fatal("monitor never reported exit")
	}
}

func TestStartFailsWhenAlreadyRunning(t *testing.T) {
	adapter := newFakeAdapter()
	sup := New(
		func(domain.BotDescriptor) (BotAdapter, error) { return adapter, nil },
		nil, testLogger(),
	)

	require.NoError(t, sup.Start(context.Background(), domain.BotDescriptor{BotID: "bot-1"}, nil))
	err := sup.Start(context.Background(), domain.BotDescriptor{BotID: "bot-1"}, nil)
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindConfigError, kind)
}

func TestStartWrapsLaunchFailureAsWorkerExit(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.launchErr = errors.New("program not found")
	sup := New(
		func(domain.BotDescriptor) (BotAdapter, error) { return adapter, nil },
		nil, testLogger(),
	)

	err := sup.Start(context.Background(), domain.BotDescriptor{BotID: "bot-1"}, nil)
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindWorkerExit, kind)
}

func TestStopSignalsThenWaitsForGracefulExit(t *testing.T) {
	adapter := newFakeAdapter()
	sup := New(
		func(domain.BotDescriptor) (BotAdapter, error) { return adapter, nil },
		nil, testLogger(),
	)
	require.NoError(t, sup.Start(context.Background(), domain.BotDescriptor{BotID: "bot-1"}, nil))

	go func() {
		time.Sleep(20 * time.Millisecond)
		adapter.closeWait()
	}()

	err := sup.Stop(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.True(t, adapter.wasSignaled())
	assert.False(t, adapter.wasKilled(), "graceful exit should not require a force kill")
}

func TestStopReturnsNilForUnknownBot(t *testing.T) {
	sup := New(func(domain.BotDescriptor) (BotAdapter, error) { return nil, nil }, nil, testLogger())
	err := sup.Stop(context.Background(), "never-started")
	assert.NoError(t, err)
}
