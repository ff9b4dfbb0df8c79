package blockstore

import (
	"github.com/ajitpratap0/zcomp/pkg/zcomp"
)

// Stats is a point-in-time view of a Store
type Stats struct {
	Reads        int64 `json:"reads"`
	Writes       int64 `json:"writes"`
	FailedReads  int64 `json:"failed_reads"`
	FailedWrites int64 `json:"failed_writes"`

	// Blocks currently holding data, and how many of them are same-filled
	// or stored raw.
	Blocks     int64 `json:"blocks"`
	SameFilled int64 `json:"same_filled"`
	Huge       int64 `json:"huge"`

	// OrigBytes is the uncompressed size of the stored blocks, ComprBytes
	// their compressed size, and StoredBytes the buffer capacity holding them.
	OrigBytes   int64 `json:"orig_bytes"`
	ComprBytes  int64 `json:"compr_bytes"`
	StoredBytes int64 `json:"stored_bytes"`

	Pool zcomp.Stats `json:"pool"`
}

// CompressionRatio returns OrigBytes / ComprBytes, or 0 for an empty store.
// Same-filled blocks cost nothing and are left out of ComprBytes.
func (s Stats) CompressionRatio() float64 {
	if s.ComprBytes == 0 {
		return 0
	}
	return float64(s.OrigBytes) / float64(s.ComprBytes)
}
