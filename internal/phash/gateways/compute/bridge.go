package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/singleflight"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/clock"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/metrics"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

const DefaultRequestTimeout = 10 * time.Second

const (
	errManagerRequired = "compute bridge: manager is required"
	errEmptySourceURL  = "compute bridge: empty source url"
	errEmptyReply      = "empty reply"
	errBadFingerprint  = "reply carries an invalid fingerprint"
	errTimedOut        = "no reply within %v"
)

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Manager        *Manager
	Clock          clock.Clock
	Logger         log.Logger
	RequestTimeout time.Duration
}

// Bridge performs fingerprint round trips against the managed resource.
// Concurrent requests for the same URL share one round trip.
type Bridge struct {
	manager *Manager
	clock   clock.Clock
	logger  log.Logger
	timeout time.Duration
	flight  singleflight.Group
}

// NewBridge builds a Bridge on top of m.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf(errManagerRequired)
	}
	if opts.Clock == nil {
		opts.Clock = opts.Manager.clock
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &Bridge{
		manager: opts.Manager,
		clock:   opts.Clock,
		logger:  log.Named(opts.Logger, "bridge"),
		timeout: opts.RequestTimeout,
	}, nil
}

// ComputeFingerprint asks the resource for the fingerprint of sourceURL.
// Errors unwrap to one of the domain error kinds. There is no retry.
//
// ctx only bounds this caller's wait; a round trip shared with other callers
// keeps running until its own deadline.
func (b *Bridge) ComputeFingerprint(ctx context.Context, sourceURL string) (domain.Fingerprint, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return "", errors.New(errEmptySourceURL)
	}
	ch := b.flight.DoChan(sourceURL, func() (any, error) {
		return b.roundTrip(sourceURL)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(domain.Fingerprint), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Bridge) roundTrip(sourceURL string) (fp domain.Fingerprint, err error) {
	start := b.clock.Now()
	metrics.ComputeRequests.Inc()
	b.manager.NoteActivity()
	defer func() {
		b.manager.NoteActivity()
		metrics.ComputeLatency.Observe(b.clock.Now().Sub(start).Seconds())
		if err != nil {
			metrics.ComputeErrors.WithLabelValues(domain.ErrorKind(err)).Inc()
			b.logger.Debug(map[string]any{"url": sourceURL, "error": err}, "Fingerprint request failed")
		}
	}()

	res, readyAt, err := b.manager.acquire(context.Background())
	if err != nil {
		return "", err
	}
	if wait := readyAt.Sub(b.clock.Now()); wait > 0 {
		<-b.clock.After(wait)
	}

	id := xid.New().String()
	reply := b.manager.calls.register(id)
	defer b.manager.calls.cancel(id)

	if err := res.Send(domain.ComputeRequest{RequestID: id, SourceURL: sourceURL}); err != nil {
		return "", domain.NewComputeError(domain.ErrTransportFailure, err)
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return "", r.err
		}
		return parseReply(r.resp)
	case <-b.clock.After(b.timeout):
		return "", domain.NewComputeError(domain.ErrRequestTimeout, fmt.Errorf(errTimedOut, b.timeout))
	}
}

// parseReply turns a correlated reply into a fingerprint or a typed error.
// An error reported by the resource is a transport failure carrying its text.
func parseReply(resp domain.ComputeResponse) (domain.Fingerprint, error) {
	if resp.Error != "" {
		return "", domain.NewComputeError(domain.ErrTransportFailure, errors.New(resp.Error))
	}
	if resp.Fingerprint == "" {
		return "", domain.NewComputeError(domain.ErrMalformedResponse, errors.New(errEmptyReply))
	}
	fp := domain.NormalizeFingerprint(resp.Fingerprint)
	if !fp.Valid() {
		return "", domain.NewComputeError(domain.ErrMalformedResponse, errors.New(errBadFingerprint))
	}
	return fp, nil
}
