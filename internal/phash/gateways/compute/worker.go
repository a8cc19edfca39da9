package compute

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

const DefaultWorkerConcurrency = 4

// WorkerOptions configures Serve.
type WorkerOptions struct {
	Fingerprinter Fingerprinter
	Logger        log.Logger
	Concurrency   int
}

// Serve is the resource side of the stream protocol. It reads requests from
// in until EOF, fingerprints them concurrently and writes one reply per
// request to out, in completion order. It returns once every accepted
// request has been answered.
func Serve(ctx context.Context, in io.Reader, out io.Writer, opts WorkerOptions) error {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultWorkerConcurrency
	}
	logger := log.Named(opts.Logger, "worker")

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	reply := func(resp domain.ComputeResponse) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(resp); err != nil {
			logger.Warn(map[string]any{"error": err, "request_id": resp.RequestID}, "Reply write failed")
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(opts.Concurrency)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req domain.ComputeRequest
		if err := json.Unmarshal(line, &req); err != nil || req.RequestID == "" {
			logger.Warn(map[string]any{"line": string(line)}, "Discarding unreadable request")
			continue
		}
		if req.SourceURL == "" {
			reply(domain.ComputeResponse{RequestID: req.RequestID, Error: "missing source url"})
			continue
		}
		g.Go(func() error {
			fp, err := opts.Fingerprinter.Fingerprint(ctx, req.SourceURL)
			resp := domain.ComputeResponse{RequestID: req.RequestID}
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Fingerprint = string(fp)
			}
			reply(resp)
			return nil
		})
	}
	_ = g.Wait()
	return sc.Err()
}
