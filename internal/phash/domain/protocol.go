package domain

// Op names a service operation on the wire.
type Op string

const (
	OpFingerprint Op = "fingerprint"
	OpCheck       Op = "check"
	OpBlock       Op = "block"
	OpUnblock     Op = "unblock"
)

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	switch o {
	case OpFingerprint, OpCheck, OpBlock, OpUnblock:
		return true
	}
	return false
}

// ServiceRequest is what a thumbnail supplier sends. ID is echoed back so a
// client can correlate replies. User is the author of the post, used by
// check (muted authors) and block (mute on block).
type ServiceRequest struct {
	ID   string `json:"id,omitempty"`
	Op   Op     `json:"op"`
	URL  string `json:"url,omitempty"`
	User string `json:"user,omitempty"`
	// Fingerprint is only read by unblock.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ServiceReply answers a ServiceRequest. A non-empty Error means "could not
// evaluate"; callers leave the item unblocked.
type ServiceReply struct {
	ID          string `json:"id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Blocked     *bool  `json:"blocked,omitempty"`
	Added       *bool  `json:"added,omitempty"`
	Removed     *int   `json:"removed,omitempty"`
	Error       string `json:"error,omitempty"`
}
