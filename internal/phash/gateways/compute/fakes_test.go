package compute

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

var testFP = strings.Repeat("ab", 32)

// replyFunc decides how a fake resource answers a request. ok=false means
// it never answers.
type replyFunc func(req domain.ComputeRequest) (resp domain.ComputeResponse, ok bool)

func echoFingerprint(fp string) replyFunc {
	return func(req domain.ComputeRequest) (domain.ComputeResponse, bool) {
		return domain.ComputeResponse{RequestID: req.RequestID, Fingerprint: fp}, true
	}
}

type fakeResource struct {
	sink    Sink
	reply   replyFunc
	sendErr error

	alive  atomic.Bool
	closes atomic.Int32

	mu   sync.Mutex
	sent []domain.ComputeRequest
}

func (r *fakeResource) Send(req domain.ComputeRequest) error {
	if r.sendErr != nil {
		return r.sendErr
	}
	r.mu.Lock()
	r.sent = append(r.sent, req)
	reply := r.reply
	r.mu.Unlock()
	if reply != nil {
		if resp, ok := reply(req); ok {
			go r.sink.Deliver(resp)
		}
	}
	return nil
}

func (r *fakeResource) Alive() bool { return r.alive.Load() }

func (r *fakeResource) Close() error {
	r.closes.Add(1)
	r.alive.Store(false)
	return nil
}

func (r *fakeResource) Sent() []domain.ComputeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ComputeRequest(nil), r.sent...)
}

type fakeLauncher struct {
	// gate, when set, holds every Launch until it is closed.
	gate    chan struct{}
	reply   replyFunc
	sendErr error

	mu        sync.Mutex
	failures  []error
	launches  int
	resources []*fakeResource
}

func (l *fakeLauncher) Launch(ctx context.Context, sink Sink) (Resource, error) {
	l.mu.Lock()
	l.launches++
	var err error
	if len(l.failures) > 0 {
		err, l.failures = l.failures[0], l.failures[1:]
	}
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	res := &fakeResource{sink: sink, reply: l.reply, sendErr: l.sendErr}
	res.alive.Store(true)
	l.mu.Lock()
	l.resources = append(l.resources, res)
	l.mu.Unlock()
	return res, nil
}

func (l *fakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *fakeLauncher) Last() *fakeResource {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.resources) == 0 {
		return nil
	}
	return l.resources[len(l.resources)-1]
}

type fakeFingerprinter struct {
	fp    domain.Fingerprint
	err   error
	calls atomic.Int32
}

func (f *fakeFingerprinter) Fingerprint(ctx context.Context, sourceURL string) (domain.Fingerprint, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(sourceURL, "broken") {
		return "", errors.New("fetch " + sourceURL + ": 404")
	}
	return f.fp, nil
}

type recordingSink struct {
	mu        sync.Mutex
	delivered []domain.ComputeResponse
	closed    chan error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{closed: make(chan error, 1)}
}

func (s *recordingSink) Deliver(resp domain.ComputeResponse) {
	s.mu.Lock()
	s.delivered = append(s.delivered, resp)
	s.mu.Unlock()
}

func (s *recordingSink) Closed(_ Resource, err error) { s.closed <- err }

func (s *recordingSink) Delivered() []domain.ComputeResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ComputeResponse(nil), s.delivered...)
}
