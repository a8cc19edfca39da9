package blocklist

// CacheStats reports lightweight decision cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Capacity int    // configured capacity (0 for disabled cache)
	Size     int    // current number of entries
	Hits     uint64 // total cache hits since construction
	Misses   uint64 // total cache misses since construction
	Purges   uint64 // wholesale clears, on overflow or blocklist change
}

// Stats is a snapshot of the blocklist repository.
type Stats struct {
	BlockedItems int
	LegacyItems  int
	MutedUsers   int
	MuteOnBlock  bool
	Threshold    int
	Cache        CacheStats
}
