// Package phash is the perceptual hash matching service. It owns the
// fingerprint cache, the compute resource and the matcher for one process
// and answers thumbnail suppliers. Every failure fails open.
package phash

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/transport"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist"
)

const (
	errCacheRequired   = "phash service: fingerprint cache is required"
	errMatcherRequired = "phash service: matcher is required"
	errEmptyURL        = "source url is empty"
	errInvalidFP       = "invalid fingerprint %q"
	errUnsupportedOp   = "unsupported op %q"
)

type Options struct {
	Cache    FingerprintCache
	Matcher  Matcher
	Resource ResourceMonitor
	Logger   log.Logger
}

type Service struct {
	cache    FingerprintCache
	matcher  Matcher
	resource ResourceMonitor
	logger   log.Logger
}

// Stats is a point-in-time view of the whole service.
type Stats struct {
	Blocklist            blocklist.Stats
	FingerprintCacheSize int
	ResourceState        string
}

func New(opts Options) (*Service, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf(errCacheRequired)
	}
	if opts.Matcher == nil {
		return nil, fmt.Errorf(errMatcherRequired)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Service{
		cache:    opts.Cache,
		matcher:  opts.Matcher,
		resource: opts.Resource,
		logger:   log.Named(opts.Logger, "service"),
	}, nil
}

// RequestFingerprint returns the fingerprint of sourceURL, from the cache
// when possible.
func (s *Service) RequestFingerprint(ctx context.Context, sourceURL string) (domain.Fingerprint, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return "", errors.New(errEmptyURL)
	}
	return s.cache.GetOrCompute(ctx, sourceURL)
}

// CheckURL reports whether the media at sourceURL should be hidden. Posts by
// a muted author are hidden without fingerprinting. On error the result is
// false alongside the error.
func (s *Service) CheckURL(ctx context.Context, sourceURL, username string) (bool, error) {
	if username != "" && s.matcher.IsUserMuted(username) {
		return true, nil
	}
	fp, err := s.RequestFingerprint(ctx, sourceURL)
	if err != nil {
		s.logger.Debug(map[string]any{"url": sourceURL, "error": err, "kind": domain.ErrorKind(err)}, "Check failed open")
		return false, err
	}
	return s.matcher.IsBlocked(fp), nil
}

// BlockURL fingerprints sourceURL and adds it to the blocklist. When the
// mute-on-block setting is on and username is known, the author is muted
// too. added is false if the exact fingerprint was already listed.
func (s *Service) BlockURL(ctx context.Context, sourceURL, username string) (fp domain.Fingerprint, added bool, err error) {
	fp, err = s.RequestFingerprint(ctx, sourceURL)
	if err != nil {
		return "", false, err
	}
	added, err = s.matcher.Add(ctx, fp, strings.TrimSpace(sourceURL))
	if err != nil {
		return fp, false, err
	}
	if username != "" && s.matcher.MuteOnBlock() {
		if _, err := s.matcher.MuteUser(ctx, username); err != nil {
			s.logger.Warn(map[string]any{"user": username, "error": err}, "Mute on block failed")
		}
	}
	return fp, added, nil
}

// Unblock removes every entry with exactly this fingerprint.
func (s *Service) Unblock(ctx context.Context, fp domain.Fingerprint) (int, error) {
	fp = domain.NormalizeFingerprint(string(fp))
	if !fp.Valid() {
		return 0, fmt.Errorf(errInvalidFP, fp)
	}
	return s.matcher.Remove(ctx, fp)
}

func (s *Service) Stats() Stats {
	st := Stats{
		Blocklist:            s.matcher.Stats(),
		FingerprintCacheSize: s.cache.Len(),
		ResourceState:        domain.ResourceAbsent.String(),
	}
	if s.resource != nil {
		st.ResourceState = s.resource.State().String()
	}
	return st
}

// HandleRequest serves one transport request. Errors become the reply's
// Error field; a failed check still carries blocked=false.
func (s *Service) HandleRequest(ctx context.Context, req domain.ServiceRequest, clientAddr net.Addr) domain.ServiceReply {
	reply := domain.ServiceReply{ID: req.ID}
	switch req.Op {
	case domain.OpFingerprint:
		fp, err := s.RequestFingerprint(ctx, req.URL)
		if err != nil {
			return s.fail(reply, req, clientAddr, err)
		}
		reply.Fingerprint = string(fp)

	case domain.OpCheck:
		blocked, err := s.CheckURL(ctx, req.URL, req.User)
		reply.Blocked = &blocked
		if err != nil {
			return s.fail(reply, req, clientAddr, err)
		}

	case domain.OpBlock:
		fp, added, err := s.BlockURL(ctx, req.URL, req.User)
		if err != nil {
			return s.fail(reply, req, clientAddr, err)
		}
		reply.Fingerprint = string(fp)
		reply.Added = &added

	case domain.OpUnblock:
		n, err := s.Unblock(ctx, domain.Fingerprint(req.Fingerprint))
		if err != nil {
			return s.fail(reply, req, clientAddr, err)
		}
		reply.Removed = &n

	default:
		return s.fail(reply, req, clientAddr, fmt.Errorf(errUnsupportedOp, req.Op))
	}
	return reply
}

func (s *Service) fail(reply domain.ServiceReply, req domain.ServiceRequest, clientAddr net.Addr, err error) domain.ServiceReply {
	fields := map[string]any{"op": string(req.Op), "url": req.URL, "error": err, "kind": domain.ErrorKind(err)}
	if clientAddr != nil {
		fields["client"] = clientAddr.String()
	}
	s.logger.Warn(fields, "Request failed")
	reply.Error = err.Error()
	return reply
}

var _ transport.RequestHandler = (*Service)(nil)
