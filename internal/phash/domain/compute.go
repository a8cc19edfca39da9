package domain

// ComputeRequest is the message sent to the compute resource.
type ComputeRequest struct {
	RequestID string `json:"requestId"`
	SourceURL string `json:"sourceUrl"`
}

// ComputeResponse is the correlated reply. Exactly one of Fingerprint and
// Error is expected to be set; a reply with neither is malformed.
type ComputeResponse struct {
	RequestID   string `json:"requestId"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ResourceState tracks the compute resource lifecycle.
type ResourceState uint8

const (
	ResourceAbsent ResourceState = iota
	ResourceCreating
	ResourceReady
)

func (s ResourceState) String() string {
	switch s {
	case ResourceAbsent:
		return "absent"
	case ResourceCreating:
		return "creating"
	case ResourceReady:
		return "ready"
	default:
		return "unknown"
	}
}
