// Package fingerprint computes stable content digests for extracted records.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/govscout/crawlworker/internal/crawler"
)

// Hasher implements crawler.Hasher using SHA-256 over a canonical field
// encoding. Fields are sorted by name before hashing, so extraction-order
// changes never produce a spurious "changed" classification, and every name
// and value is length-prefixed so adjacent fields cannot collide by
// concatenation.
type Hasher struct{}

// New returns a SHA-256 field hasher.
func New() *Hasher {
	return &Hasher{}
}

// Fingerprint digests the field mapping and returns a hex string.
func (h *Hasher) Fingerprint(fields []crawler.Field) string {
	sorted := make([]crawler.Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Value < sorted[j].Value
	})

	digest := sha256.New()
	var lenBuf [8]byte
	writeChunk := func(s string) {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
		digest.Write(lenBuf[:])
		digest.Write([]byte(s))
	}
	for _, f := range sorted {
		writeChunk(f.Name)
		writeChunk(f.Value)
	}
	return hex.EncodeToString(digest.Sum(nil))
}
