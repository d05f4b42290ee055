package storage

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// ChunkRecord is a single embeddable slice of a source document.
// Records are immutable once written; replacing one means re-adding it under the same ID.
type ChunkRecord struct {
	ID              string    // "<sourceType>_<sourceID>_<index>", prefix groups a source
	DocumentName    string    // Human-facing grouping key, not unique across re-uploads
	Content         string    // Raw chunk text
	EnhancedContent string    // Content enriched for display/ranking (optional)
	Title           string    // Generated chunk title (optional)
	Summary         string    // Generated chunk summary (optional)
	SourceFile      string    // Origin file reference (optional)
	Domains         []string  // Tags, defaults to ["default"]
	Embedding       []float32 // Must match the store's vector dimension
}

// SearchResult is a ChunkRecord projection with a score.
// Embedding is never populated on results.
type SearchResult struct {
	*ChunkRecord
	Score float64
}

// DefaultDomain is applied when a record carries no domains.
const DefaultDomain = "default"

// UnrankedScore is the score reported for listings where no similarity is computed.
const UnrankedScore = 1.0

// DefaultCollectionName is the Qdrant collection used when none is configured.
const DefaultCollectionName = "knowledge_chunks"

// DefaultVectorDimension is the embedding size for text-embedding-3-small.
const DefaultVectorDimension = 1536

// normalizeDomains returns domains, or ["default"] when empty.
func normalizeDomains(domains []string) []string {
	if len(domains) == 0 {
		return []string{DefaultDomain}
	}
	return domains
}

// project copies a record into a search result without its embedding.
func project(rec *ChunkRecord, score float64) SearchResult {
	out := *rec
	out.Embedding = nil
	out.Domains = normalizeDomains(append([]string(nil), rec.Domains...))
	return SearchResult{ChunkRecord: &out, Score: score}
}

// nonNil drops nil entries from records, reusing the slice when there are none.
func nonNil(records []*ChunkRecord) []*ChunkRecord {
	for i, rec := range records {
		if rec != nil {
			continue
		}
		out := append([]*ChunkRecord(nil), records[:i]...)
		for _, rec := range records[i+1:] {
			if rec != nil {
				out = append(out, rec)
			}
		}
		return out
	}
	return records
}

// validateDimension checks a vector against the configured dimension.
func validateDimension(vec []float32, dim int, what string) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: %s has %d dimensions, expected %d",
			ErrDimensionMismatch, what, len(vec), dim)
	}
	return nil
}

// SourcePrefix builds the ID prefix shared by every chunk of one source document.
// The trailing separator keeps "doc1" from matching chunks of "doc10".
func SourcePrefix(sourceType, sourceID string) string {
	return Slug(sourceType) + "_" + sourceKey(sourceID) + "_"
}

// sourceKey is the slug of id followed by a hash of the raw id. Ids that slug alike,
// such as "a/b.md", "a-b.md" and "a_b.md", still get distinct keys.
func sourceKey(id string) string {
	sum := fmt.Sprintf("%08x", uint32(xxhash.Sum64String(id)))
	if slug := Slug(id); slug != "" {
		return slug + "-" + sum
	}
	return sum
}

// ChunkID joins a source prefix and a chunk index.
func ChunkID(prefix string, index int) string {
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix + strconv.Itoa(index)
}

// Slug lowercases s and replaces every run of characters other than letters and digits
// with a single "-". The result never contains "_".
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// chunkOrdinal extracts the trailing numeric index of a chunk ID, or -1.
func chunkOrdinal(id string) int {
	i := strings.LastIndex(id, "_")
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return -1
	}
	return n
}
