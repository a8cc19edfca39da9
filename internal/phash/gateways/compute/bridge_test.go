package compute

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/clock"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

type bridgeFixture struct {
	launcher *fakeLauncher
	manager  *Manager
	bridge   *Bridge
}

func newBridgeFixture(t *testing.T, l *fakeLauncher, clk clock.Clock, grace time.Duration) *bridgeFixture {
	t.Helper()
	m, err := NewManager(ManagerOptions{Launcher: l, Clock: clk, InitGrace: grace})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Teardown(context.Background()) })
	b, err := NewBridge(BridgeOptions{Manager: m, RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	return &bridgeFixture{launcher: l, manager: m, bridge: b}
}

func TestNewBridge_RequiresManager(t *testing.T) {
	_, err := NewBridge(BridgeOptions{})
	assert.EqualError(t, err, errManagerRequired)
}

func TestBridge_ComputeFingerprint(t *testing.T) {
	f := newBridgeFixture(t, &fakeLauncher{reply: echoFingerprint("AB" + testFP[2:])}, nil, 0)

	fp, err := f.bridge.ComputeFingerprint(context.Background(), " https://pbs.twimg.com/a.jpg ")
	require.NoError(t, err)
	assert.Equal(t, domain.Fingerprint(testFP), fp, "reply is normalized")

	sent := f.launcher.Last().Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://pbs.twimg.com/a.jpg", sent[0].SourceURL)
	assert.NotEmpty(t, sent[0].RequestID)
	assert.Equal(t, domain.ResourceReady, f.manager.State())
	assert.Equal(t, 0, f.manager.calls.len())
}

func TestBridge_EmptyURL(t *testing.T) {
	f := newBridgeFixture(t, &fakeLauncher{}, nil, 0)
	_, err := f.bridge.ComputeFingerprint(context.Background(), "  ")
	assert.EqualError(t, err, errEmptySourceURL)
	assert.Equal(t, 0, f.launcher.Launches())
}

func TestBridge_DistinctRequestIDs(t *testing.T) {
	f := newBridgeFixture(t, &fakeLauncher{reply: echoFingerprint(testFP)}, nil, 0)

	for _, u := range []string{"https://x/1.jpg", "https://x/2.jpg", "https://x/3.jpg"} {
		_, err := f.bridge.ComputeFingerprint(context.Background(), u)
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for _, req := range f.launcher.Last().Sent() {
		assert.False(t, seen[req.RequestID])
		seen[req.RequestID] = true
	}
	assert.Len(t, seen, 3)
}

func TestBridge_CreationFailure(t *testing.T) {
	f := newBridgeFixture(t, &fakeLauncher{failures: []error{errors.New("spawn failed")}}, nil, 0)

	_, err := f.bridge.ComputeFingerprint(context.Background(), "https://x/a.jpg")
	assert.ErrorIs(t, err, domain.ErrResourceCreationFailed)
	assert.Equal(t, domain.ResourceAbsent, f.manager.State())
}

func TestBridge_TransportFailureKeepsReason(t *testing.T) {
	f := newBridgeFixture(t, &fakeLauncher{sendErr: errors.New("broken pipe")}, nil, 0)

	_, err := f.bridge.ComputeFingerprint(context.Background(), "https://x/a.jpg")
	assert.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, 0, f.manager.calls.len())
}

func TestBridge_ResourceReportedError(t *testing.T) {
	reply := func(req domain.ComputeRequest) (domain.ComputeResponse, bool) {
		return domain.ComputeResponse{RequestID: req.RequestID, Error: "decode image: unknown format"}, true
	}
	f := newBridgeFixture(t, &fakeLauncher{reply: reply}, nil, 0)

	_, err := f.bridge.ComputeFingerprint(context.Background(), "https://x/a.jpg")
	assert.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestBridge_MalformedReplies(t *testing.T) {
	tests := []struct {
		name string
		fp   string
	}{
		{"empty", ""},
		{"not hex", "zzzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t, &fakeLauncher{reply: echoFingerprint(tt.fp)}, nil, 0)
			_, err := f.bridge.ComputeFingerprint(context.Background(), "https://x/a.jpg")
			assert.ErrorIs(t, err, domain.ErrMalformedResponse)
		})
	}
}

func TestBridge_TimeoutThenLaterSuccess(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	var mu sync.Mutex
	calls := 0
	reply := func(req domain.ComputeRequest) (domain.ComputeResponse, bool) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return domain.ComputeResponse{}, false
		}
		return domain.ComputeResponse{RequestID: req.RequestID, Fingerprint: testFP}, true
	}
	l := &fakeLauncher{reply: reply}
	m, err := NewManager(ManagerOptions{Launcher: l, Clock: clk})
	require.NoError(t, err)
	b, err := NewBridge(BridgeOptions{Manager: m})
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := b.ComputeFingerprint(context.Background(), "https://x/slow.jpg")
		result <- err
	}()

	// Idle timer plus the request deadline.
	clk.BlockUntil(2)
	clk.Advance(DefaultRequestTimeout)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, domain.ErrRequestTimeout)
	case <-time.After(time.Second):
		t.Fatal("request did not time out")
	}
	assert.Equal(t, 0, m.calls.len(), "timed out request is abandoned")

	fp, err := b.ComputeFingerprint(context.Background(), "https://x/fast.jpg")
	require.NoError(t, err)
	assert.Equal(t, domain.Fingerprint(testFP), fp)
	assert.Equal(t, 1, l.Launches())
}

func TestBridge_WaitsOutInitGrace(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	l := &fakeLauncher{reply: echoFingerprint(testFP)}
	m, err := NewManager(ManagerOptions{Launcher: l, Clock: clk, InitGrace: DefaultInitGrace})
	require.NoError(t, err)
	b, err := NewBridge(BridgeOptions{Manager: m})
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := b.ComputeFingerprint(context.Background(), "https://x/a.jpg")
		result <- err
	}()

	// Idle timer plus the grace wait.
	clk.BlockUntil(2)
	assert.Empty(t, l.Last().Sent(), "nothing is sent during the grace period")

	clk.Advance(DefaultInitGrace)
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("request did not complete after the grace period")
	}
	assert.Len(t, l.Last().Sent(), 1)
}

func TestBridge_CoalescesSameURL(t *testing.T) {
	l := &fakeLauncher{}
	f := newBridgeFixture(t, l, nil, 0)

	const url = "https://x/dup.jpg"
	var wg sync.WaitGroup
	results := make(chan domain.Fingerprint, 2)
	call := func() {
		defer wg.Done()
		fp, err := f.bridge.ComputeFingerprint(context.Background(), url)
		assert.NoError(t, err)
		results <- fp
	}

	wg.Add(1)
	go call()
	require.Eventually(t, func() bool {
		res := l.Last()
		return res != nil && len(res.Sent()) == 1
	}, time.Second, time.Millisecond)

	wg.Add(1)
	go call()
	time.Sleep(20 * time.Millisecond)

	req := l.Last().Sent()[0]
	f.manager.Deliver(domain.ComputeResponse{RequestID: req.RequestID, Fingerprint: testFP})
	wg.Wait()
	close(results)

	for fp := range results {
		assert.Equal(t, domain.Fingerprint(testFP), fp)
	}
	assert.Len(t, l.Last().Sent(), 1)
}

func TestBridge_CallerContextCancel(t *testing.T) {
	f := newBridgeFixture(t, &fakeLauncher{}, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.bridge.ComputeFingerprint(ctx, "https://x/never.jpg")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_ResourceStopsMidRequest(t *testing.T) {
	l := &fakeLauncher{}
	f := newBridgeFixture(t, l, nil, 0)

	result := make(chan error, 1)
	go func() {
		_, err := f.bridge.ComputeFingerprint(context.Background(), "https://x/a.jpg")
		result <- err
	}()
	require.Eventually(t, func() bool {
		res := l.Last()
		return res != nil && len(res.Sent()) == 1
	}, time.Second, time.Millisecond)

	f.manager.Closed(l.Last(), errors.New("signal: killed"))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, domain.ErrTransportFailure)
	case <-time.After(time.Second):
		t.Fatal("pending request was not failed")
	}
	assert.Equal(t, domain.ResourceAbsent, f.manager.State())
}

func TestBridge_NotesActivity(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	l := &fakeLauncher{reply: echoFingerprint(testFP)}
	m, err := NewManager(ManagerOptions{Launcher: l, Clock: clk})
	require.NoError(t, err)
	b, err := NewBridge(BridgeOptions{Manager: m})
	require.NoError(t, err)

	_, err = b.ComputeFingerprint(context.Background(), "https://x/a.jpg")
	require.NoError(t, err)

	clk.Advance(DefaultIdleTimeout - time.Second)
	assert.Equal(t, domain.ResourceReady, m.State())
	clk.Advance(time.Second)
	assert.Equal(t, domain.ResourceAbsent, m.State())
}
