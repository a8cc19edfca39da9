package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/wire"
)

const DefaultHandleTimeout = 15 * time.Second

const (
	errAlreadyRunning = "udp transport already running"
	errResolve        = "failed to resolve UDP address %s: %w"
	errBind           = "failed to bind UDP socket on %s: %w"
)

// UDPTransport serves one request per datagram and answers to the sender.
type UDPTransport struct {
	addr          string
	codec         wire.Codec
	logger        log.Logger
	handleTimeout time.Duration

	mu      sync.RWMutex
	conn    *net.UDPConn
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewUDPTransport creates a transport that will listen on addr.
func NewUDPTransport(addr string, codec wire.Codec, logger log.Logger) *UDPTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &UDPTransport{
		addr:          addr,
		codec:         codec,
		logger:        log.Named(logger, "transport"),
		handleTimeout: DefaultHandleTimeout,
	}
}

// Start binds the socket and begins serving in the background.
func (t *UDPTransport) Start(ctx context.Context, handler RequestHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf(errAlreadyRunning)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf(errResolve, t.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf(errBind, t.addr, err)
	}

	t.conn = conn
	t.running = true
	t.stopCh = make(chan struct{})

	t.logger.Info(map[string]any{"transport": "udp", "address": conn.LocalAddr().String()}, "Transport started")

	t.wg.Add(1)
	go t.listenLoop(ctx, conn, handler)
	return nil
}

// Stop closes the socket and waits for in-flight requests to be answered.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	close(t.stopCh)
	t.running = false
	closeErr := t.conn.Close()
	t.mu.Unlock()

	if closeErr != nil {
		t.logger.Warn(map[string]any{"error": closeErr}, "Error closing UDP connection")
	}
	t.wg.Wait()
	t.logger.Info(map[string]any{"transport": "udp", "address": t.addr}, "Transport stopped")
	return closeErr
}

// Address returns the bound address, or the configured one before Start.
func (t *UDPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.addr
}

func (t *UDPTransport) listenLoop(ctx context.Context, conn *net.UDPConn, handler RequestHandler) {
	defer t.wg.Done()
	buffer := make([]byte, wire.MaxMessageSize)

	// Closing the socket is what unblocks ReadFromUDP.
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Stop()
		case <-t.stopCh:
		}
	}()

	for {
		n, clientAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn(map[string]any{"error": err}, "Failed to read UDP packet")
			continue
		}
		packet := make([]byte, n)
		copy(packet, buffer[:n])
		t.wg.Add(1)
		go t.handlePacket(ctx, conn, packet, clientAddr, handler)
	}
}

func (t *UDPTransport) handlePacket(ctx context.Context, conn *net.UDPConn, data []byte, clientAddr *net.UDPAddr, handler RequestHandler) {
	defer t.wg.Done()

	req, err := t.codec.DecodeRequest(data)
	if err != nil {
		t.logger.Warn(map[string]any{"client": clientAddr.String(), "error": err, "size": len(data)}, "Failed to decode request")
		// Answer anyway so the client does not wait out its timeout.
		t.reply(conn, clientAddr, req.ID, err)
		return
	}

	t.logger.Debug(map[string]any{"client": clientAddr.String(), "id": req.ID, "op": string(req.Op), "url": req.URL}, "Received request")

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.handleTimeout)
	defer cancel()
	reply := handler.HandleRequest(hctx, req, clientAddr)
	reply.ID = req.ID

	out, err := t.codec.EncodeReply(reply)
	if err != nil {
		t.logger.Error(map[string]any{"client": clientAddr.String(), "id": req.ID, "error": err}, "Failed to encode reply")
		return
	}
	if _, err := conn.WriteToUDP(out, clientAddr); err != nil {
		t.logger.Error(map[string]any{"client": clientAddr.String(), "id": req.ID, "error": err}, "Failed to send reply")
		return
	}
	t.logger.Debug(map[string]any{"client": clientAddr.String(), "id": req.ID, "size": len(out)}, "Sent reply")
}

func (t *UDPTransport) reply(conn *net.UDPConn, clientAddr *net.UDPAddr, id string, cause error) {
	out, err := t.codec.EncodeReply(domain.ServiceReply{ID: id, Error: cause.Error()})
	if err != nil {
		return
	}
	_, _ = conn.WriteToUDP(out, clientAddr)
}

var _ ServerTransport = (*UDPTransport)(nil)
