package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

const (
	errEmptyMessage = "empty message"
	errTooLarge     = "message of %d bytes exceeds %d"
	errDecode       = "decode: %w"
	errUnknownOp    = "unknown op %q"
	errMissingURL   = "op %s requires a url"
	errMissingFP    = "op %s requires a fingerprint"
	errIDMismatch   = "reply id %q does not match request id %q"
)

// jsonCodec carries one JSON object per datagram.
type jsonCodec struct {
	logger log.Logger
}

// NewJSONCodec returns the JSON datagram codec.
func NewJSONCodec(logger log.Logger) Codec {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &jsonCodec{logger: logger}
}

func (c *jsonCodec) DecodeRequest(data []byte) (domain.ServiceRequest, error) {
	var req domain.ServiceRequest
	if err := decodeStrict(data, &req); err != nil {
		return req, err
	}
	req.Op = domain.Op(strings.ToLower(strings.TrimSpace(string(req.Op))))
	req.URL = strings.TrimSpace(req.URL)
	req.User = strings.TrimSpace(req.User)
	if !req.Op.Valid() {
		return req, fmt.Errorf(errUnknownOp, req.Op)
	}
	switch req.Op {
	case domain.OpUnblock:
		if req.Fingerprint == "" {
			return req, fmt.Errorf(errMissingFP, req.Op)
		}
	default:
		if req.URL == "" {
			return req, fmt.Errorf(errMissingURL, req.Op)
		}
	}
	return req, nil
}

func (c *jsonCodec) EncodeReply(reply domain.ServiceReply) ([]byte, error) {
	return encode(reply)
}

func (c *jsonCodec) EncodeRequest(req domain.ServiceRequest) ([]byte, error) {
	return encode(req)
}

func (c *jsonCodec) DecodeReply(data []byte, expectedID string) (domain.ServiceReply, error) {
	var reply domain.ServiceReply
	if err := decodeStrict(data, &reply); err != nil {
		return reply, err
	}
	if expectedID != "" && reply.ID != expectedID {
		c.logger.Debug(map[string]any{"got": reply.ID, "want": expectedID}, "Reply id mismatch")
		return reply, fmt.Errorf(errIDMismatch, reply.ID, expectedID)
	}
	return reply, nil
}

func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf(errEmptyMessage)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf(errTooLarge, len(data), MaxMessageSize)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf(errDecode, err)
	}
	return nil
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf(errTooLarge, len(data), MaxMessageSize)
	}
	return data, nil
}
