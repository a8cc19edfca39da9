package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

func decodeReplies(t *testing.T, data []byte) map[string]domain.ComputeResponse {
	t.Helper()
	out := map[string]domain.ComputeResponse{}
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var resp domain.ComputeResponse
		require.NoError(t, dec.Decode(&resp))
		out[resp.RequestID] = resp
	}
	return out
}

func TestServe_AnswersEveryRequest(t *testing.T) {
	in := strings.Join([]string{
		`{"requestId":"1","sourceUrl":"https://x/a.jpg"}`,
		``,
		`not json`,
		`{"requestId":"2","sourceUrl":"https://x/broken.jpg"}`,
		`{"requestId":"3"}`,
		`{"sourceUrl":"https://x/orphan.jpg"}`,
	}, "\n")
	var out bytes.Buffer
	fpr := &fakeFingerprinter{fp: domain.Fingerprint(testFP)}

	err := Serve(context.Background(), strings.NewReader(in), &out, WorkerOptions{Fingerprinter: fpr, Concurrency: 2})
	require.NoError(t, err)

	replies := decodeReplies(t, out.Bytes())
	require.Len(t, replies, 3)
	assert.Equal(t, testFP, replies["1"].Fingerprint)
	assert.Empty(t, replies["1"].Error)
	assert.Contains(t, replies["2"].Error, "404")
	assert.Empty(t, replies["2"].Fingerprint)
	assert.Equal(t, "missing source url", replies["3"].Error)
	assert.Equal(t, int32(2), fpr.calls.Load())
}

func TestServe_ManyRequests(t *testing.T) {
	var in strings.Builder
	for i := 0; i < 50; i++ {
		req, _ := json.Marshal(domain.ComputeRequest{RequestID: string(rune('A' + i)), SourceURL: "https://x/img.jpg"})
		in.Write(req)
		in.WriteByte('\n')
	}
	var out bytes.Buffer
	err := Serve(context.Background(), strings.NewReader(in.String()), &out, WorkerOptions{
		Fingerprinter: &fakeFingerprinter{fp: domain.Fingerprint(testFP)},
	})
	require.NoError(t, err)
	assert.Len(t, decodeReplies(t, out.Bytes()), 50)
}
