// Package wire encodes service requests and replies for datagram transports.
package wire

import "github.com/user1303836/x-gif-blocker/internal/phash/domain"

// MaxMessageSize is the largest datagram either side will read.
const MaxMessageSize = 64 * 1024

type Codec interface {
	// Server side.
	DecodeRequest(data []byte) (domain.ServiceRequest, error)
	EncodeReply(reply domain.ServiceReply) ([]byte, error)

	// Client side.
	EncodeRequest(req domain.ServiceRequest) ([]byte, error)
	DecodeReply(data []byte, expectedID string) (domain.ServiceReply, error)
}
