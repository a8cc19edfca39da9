package compute

import (
	"context"
	"fmt"
	"io"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
)

const errFingerprinterRequired = "inproc launcher: fingerprinter is required"

// InprocLauncher runs Serve on a goroutine connected through in-memory
// pipes. It speaks the same protocol as the subprocess backend.
type InprocLauncher struct {
	Fingerprinter Fingerprinter
	Concurrency   int
	Logger        log.Logger
}

func (l *InprocLauncher) Launch(ctx context.Context, sink Sink) (Resource, error) {
	if l.Fingerprinter == nil {
		return nil, fmt.Errorf(errFingerprinterRequired)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	workCtx, cancel := context.WithCancel(context.Background())
	go func() {
		err := Serve(workCtx, reqR, respW, WorkerOptions{
			Fingerprinter: l.Fingerprinter,
			Logger:        logger,
			Concurrency:   l.Concurrency,
		})
		respW.CloseWithError(err)
	}()

	wait := func() error {
		cancel()
		return nil
	}
	kill := func() error {
		cancel()
		return reqR.CloseWithError(io.ErrClosedPipe)
	}
	return newStreamResource(reqW, respR, sink, logger, wait, kill), nil
}

var _ Launcher = (*InprocLauncher)(nil)
