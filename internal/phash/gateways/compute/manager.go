package compute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/clock"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/metrics"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

const (
	DefaultIdleTimeout   = 30 * time.Second
	DefaultInitGrace     = 100 * time.Millisecond
	DefaultLaunchTimeout = 10 * time.Second
)

const (
	errLauncherRequired = "compute manager: launcher is required"
	errResourceStopped  = "compute resource stopped"
	errResourceClosed   = "compute resource closed"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Launcher    Launcher
	Clock       clock.Clock
	Logger      log.Logger
	IdleTimeout time.Duration

	// InitGrace is how long a new resource may drop messages. Zero means
	// it is usable as soon as Launch returns.
	InitGrace     time.Duration
	LaunchTimeout time.Duration
}

// Manager owns the single compute resource. It creates it on demand, shares
// one creation among concurrent callers, and tears it down once idle.
type Manager struct {
	launcher      Launcher
	clock         clock.Clock
	logger        log.Logger
	idleTimeout   time.Duration
	initGrace     time.Duration
	launchTimeout time.Duration

	calls  *pendingCalls
	create singleflight.Group

	mu       sync.Mutex
	state    domain.ResourceState
	res      Resource
	readyAt  time.Time
	creating chan struct{} // closed when the current creation settles
	idle     clock.Timer
	idleSeq  uint64
}

// NewManager builds a Manager in the Absent state.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Launcher == nil {
		return nil, fmt.Errorf(errLauncherRequired)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.InitGrace < 0 {
		opts.InitGrace = 0
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = DefaultLaunchTimeout
	}
	return &Manager{
		launcher:      opts.Launcher,
		clock:         opts.Clock,
		logger:        log.Named(opts.Logger, "compute"),
		idleTimeout:   opts.IdleTimeout,
		initGrace:     opts.InitGrace,
		launchTimeout: opts.LaunchTimeout,
		calls:         newPendingCalls(),
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() domain.ResourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureReady makes sure a live resource exists. Concurrent callers during a
// creation all observe that creation's outcome. A failed creation resets the
// state to Absent so the next call starts fresh.
func (m *Manager) EnsureReady(ctx context.Context) error {
	_, _, err := m.acquire(ctx)
	return err
}

// acquire returns the live resource and the instant it becomes able to take
// messages.
func (m *Manager) acquire(ctx context.Context) (Resource, time.Time, error) {
	m.mu.Lock()
	if m.state == domain.ResourceReady {
		if m.res.Alive() {
			res, at := m.res, m.readyAt
			m.mu.Unlock()
			return res, at, nil
		}
		m.logger.Warn(nil, "Compute resource found dead, recreating")
		m.dropLocked()
	}
	m.mu.Unlock()

	ch := m.create.DoChan("resource", m.launch)
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, time.Time{}, r.Err
		}
		ready := r.Val.(readyResource)
		return ready.res, ready.at, nil
	case <-ctx.Done():
		return nil, time.Time{}, ctx.Err()
	}
}

type readyResource struct {
	res Resource
	at  time.Time
}

func (m *Manager) launch() (any, error) {
	m.mu.Lock()
	// A caller may have observed Absent just before another creation
	// finished.
	if m.state == domain.ResourceReady && m.res.Alive() {
		ready := readyResource{res: m.res, at: m.readyAt}
		m.mu.Unlock()
		return ready, nil
	}
	done := make(chan struct{})
	m.creating = done
	m.setStateLocked(domain.ResourceCreating)
	m.mu.Unlock()

	metrics.ResourceCreations.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), m.launchTimeout)
	res, err := m.launcher.Launch(ctx, m)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(done)
	m.creating = nil
	if err != nil {
		m.setStateLocked(domain.ResourceAbsent)
		m.logger.Error(map[string]any{"error": err}, "Compute resource creation failed")
		return nil, domain.NewComputeError(domain.ErrResourceCreationFailed, err)
	}
	m.res = res
	m.readyAt = m.clock.Now().Add(m.initGrace)
	m.setStateLocked(domain.ResourceReady)
	m.logger.Info(nil, "Compute resource ready")
	return readyResource{res: res, at: m.readyAt}, nil
}

// NoteActivity restarts the idle window. When it elapses with no further
// activity the resource is torn down.
func (m *Manager) NoteActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idle != nil {
		m.idle.Stop()
	}
	m.idleSeq++
	seq := m.idleSeq
	m.idle = m.clock.AfterFunc(m.idleTimeout, func() { m.onIdle(seq) })
}

func (m *Manager) onIdle(seq uint64) {
	if err := m.teardownIfIdle(context.Background(), seq); err != nil {
		m.logger.Warn(map[string]any{"error": err}, "Idle teardown failed")
	}
}

// teardownIfIdle tears the resource down only if no activity was noted since
// the idle timer carrying seq was armed. The check and the drop happen under
// one hold of m.mu.
func (m *Manager) teardownIfIdle(ctx context.Context, seq uint64) error {
	return m.teardown(ctx, func() bool { return seq == m.idleSeq })
}

// Teardown closes the resource. It waits for an in-flight creation first and
// is a no-op when nothing is running.
func (m *Manager) Teardown(ctx context.Context) error {
	return m.teardown(ctx, nil)
}

// teardown drops the resource when shouldDrop (called with m.mu held) is nil
// or reports true.
func (m *Manager) teardown(ctx context.Context, shouldDrop func() bool) error {
	m.mu.Lock()
	for m.creating != nil {
		ch := m.creating
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}
	if shouldDrop != nil {
		if !shouldDrop() {
			m.mu.Unlock()
			return nil
		}
		if m.res != nil {
			m.logger.Debug(map[string]any{"idle": m.idleTimeout.String()}, "Compute resource idle")
		}
	}
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	m.idleSeq++
	res := m.res
	m.dropLocked()
	m.mu.Unlock()

	if res == nil {
		return nil
	}
	m.calls.failAll(domain.NewComputeError(domain.ErrTransportFailure, errors.New(errResourceClosed)))
	m.logger.Info(nil, "Compute resource torn down")
	return res.Close()
}

// Deliver routes a reply to its waiting caller.
func (m *Manager) Deliver(resp domain.ComputeResponse) {
	if !m.calls.resolve(resp) {
		m.logger.Debug(map[string]any{"request_id": resp.RequestID}, "Dropping uncorrelated reply")
	}
}

// Closed handles a resource stopping on its own.
func (m *Manager) Closed(res Resource, err error) {
	m.mu.Lock()
	current := m.res == res
	if current {
		m.dropLocked()
	}
	m.mu.Unlock()
	if !current {
		return
	}
	reason := errors.New(errResourceStopped)
	if err != nil {
		reason = fmt.Errorf("%s: %w", errResourceStopped, err)
	}
	n := m.calls.failAll(domain.NewComputeError(domain.ErrTransportFailure, reason))
	m.logger.Warn(map[string]any{"error": err, "failed_requests": n}, "Compute resource stopped")
}

func (m *Manager) dropLocked() {
	m.res = nil
	m.readyAt = time.Time{}
	m.setStateLocked(domain.ResourceAbsent)
}

func (m *Manager) setStateLocked(s domain.ResourceState) {
	m.state = s
	metrics.ResourceState.Set(float64(s))
}

var _ Sink = (*Manager)(nil)
