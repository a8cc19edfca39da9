package compute

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

// maxLineSize bounds one newline-delimited JSON message.
const maxLineSize = 1 << 20

const closeGrace = 5 * time.Second

var errStreamClosed = errors.New("compute stream closed")

// streamResource speaks newline-delimited JSON: requests are written to w,
// replies are read from r. The resource is alive until r reaches EOF.
type streamResource struct {
	w      io.WriteCloser
	sink   Sink
	logger log.Logger

	// wait reaps the backend after its output ends; kill forces it down
	// when it ignores the closed input.
	wait func() error
	kill func() error

	mu   sync.Mutex
	enc  *json.Encoder
	done chan struct{}
	once sync.Once
}

func newStreamResource(w io.WriteCloser, r io.Reader, sink Sink, logger log.Logger, wait, kill func() error) *streamResource {
	s := &streamResource{
		w:      w,
		sink:   sink,
		logger: logger,
		wait:   wait,
		kill:   kill,
		enc:    json.NewEncoder(w),
		done:   make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

func (s *streamResource) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp domain.ComputeResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.RequestID == "" {
			s.logger.Warn(map[string]any{"line": string(line)}, "Discarding unreadable compute reply")
			continue
		}
		s.sink.Deliver(resp)
	}
	err := sc.Err()
	if err != nil && s.kill != nil {
		_ = s.kill()
	}
	if s.wait != nil {
		if werr := s.wait(); err == nil {
			err = werr
		}
	}
	close(s.done)
	s.sink.Closed(s, err)
}

func (s *streamResource) Send(req domain.ComputeRequest) error {
	if !s.Alive() {
		return errStreamClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(req)
}

func (s *streamResource) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close ends the input and waits for the backend to finish, killing it if
// it does not exit in time.
func (s *streamResource) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		err = s.w.Close()
		s.mu.Unlock()
		select {
		case <-s.done:
		case <-time.After(closeGrace):
			if s.kill != nil {
				err = s.kill()
			}
			<-s.done
		}
	})
	return err
}

var _ Resource = (*streamResource)(nil)
