// Package transport exposes the matching service to thumbnail suppliers over
// the network. It converts datagrams to domain requests and back so the
// service only sees domain types.
package transport

import (
	"context"
	"net"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

// ServerTransport is a network listener feeding a RequestHandler.
type ServerTransport interface {
	Start(ctx context.Context, handler RequestHandler) error
	Stop() error
	// Address returns the bound address once started.
	Address() string
}

// RequestHandler processes one decoded request. It never fails: problems are
// reported in the reply's Error field.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req domain.ServiceRequest, clientAddr net.Addr) domain.ServiceReply
}
