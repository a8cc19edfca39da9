// Package compute runs fingerprint computations on a single, lazily created,
// idle-expiring compute resource and correlates requests with replies.
package compute

import (
	"context"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

// Resource is a running compute backend reachable only by messages.
type Resource interface {
	// Send queues a request. Replies arrive through the Sink given to Launch.
	Send(req domain.ComputeRequest) error
	// Alive reports whether the backend is still running. It is checked on
	// every use so an externally closed backend is noticed.
	Alive() bool
	Close() error
}

// Sink receives everything a Resource emits.
type Sink interface {
	Deliver(resp domain.ComputeResponse)
	// Closed is called once when the resource stops, with the reason if any.
	Closed(res Resource, err error)
}

// Launcher creates Resources. ctx bounds the launch only, not the lifetime
// of the resource it returns.
type Launcher interface {
	Launch(ctx context.Context, sink Sink) (Resource, error)
}

// Fingerprinter turns a source URL into a fingerprint. It is what a
// resource runs for each request.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, sourceURL string) (domain.Fingerprint, error)
}
