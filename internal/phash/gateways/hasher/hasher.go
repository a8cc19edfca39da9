// Package hasher fetches thumbnails and computes their 256-bit perceptual
// hash. It is what the hash worker runs for each request.
package hasher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

const (
	DefaultFetchTimeout = 8 * time.Second
	DefaultMaxBytes     = 8 << 20

	// hashSide squared is the hash length in bits.
	hashSide = 16
)

const (
	errBuildRequest = "build request: %w"
	errFetch        = "fetch %s: %w"
	errStatus       = "fetch %s: status %d"
	errTooLarge     = "fetch %s: body exceeds %d bytes"
	errDecode       = "decode image: %w"
	errHash         = "perceptual hash: %w"
)

// Options configures a Hasher.
type Options struct {
	Client       *http.Client
	FetchTimeout time.Duration
	MaxBytes     int64
	UserAgent    string
	Logger       log.Logger
}

// Hasher implements compute.Fingerprinter over HTTP.
type Hasher struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	logger    log.Logger
}

func New(opts Options) *Hasher {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "gifblockd"
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Hasher{
		client:    opts.Client,
		timeout:   opts.FetchTimeout,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
		logger:    log.Named(opts.Logger, "hasher"),
	}
}

// Fingerprint downloads sourceURL and hashes the image.
func (h *Hasher) Fingerprint(ctx context.Context, sourceURL string) (domain.Fingerprint, error) {
	data, err := h.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	fp, err := Hash(data)
	if err != nil {
		return "", err
	}
	h.logger.Debug(map[string]any{"url": sourceURL, "bytes": len(data), "fingerprint": string(fp)}, "Fingerprint computed")
	return fp, nil
}

func (h *Hasher) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf(errBuildRequest, err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFetch, sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(errStatus, sourceURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf(errFetch, sourceURL, err)
	}
	if int64(len(data)) > h.maxBytes {
		return nil, fmt.Errorf(errTooLarge, sourceURL, h.maxBytes)
	}
	return data, nil
}

// Hash decodes raw image bytes (gif, jpeg, png or webp; the first frame of
// an animation) and returns the 64 hex digit perceptual hash.
func Hash(data []byte) (domain.Fingerprint, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf(errDecode, err)
	}
	ph, err := goimagehash.ExtPerceptionHash(img, hashSide, hashSide)
	if err != nil {
		return "", fmt.Errorf(errHash, err)
	}
	var b strings.Builder
	for _, word := range ph.GetHash() {
		fmt.Fprintf(&b, "%016x", word)
	}
	return domain.Fingerprint(b.String()), nil
}
