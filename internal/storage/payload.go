package storage

import (
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload field names stored on every Qdrant point.
const (
	fieldID              = "id"
	fieldDocumentName    = "document_name"
	fieldContent         = "content"
	fieldEnhancedContent = "enhanced_content"
	fieldTitle           = "title"
	fieldSummary         = "summary"
	fieldSourceFile      = "source_file"
	fieldDomains         = "domains"
)

// vectorName is the named vector holding chunk embeddings.
const vectorName = "content"

// pointNamespace seeds the name-based point IDs derived from chunk IDs.
var pointNamespace = uuid.MustParse("6f1d3c1e-8a52-4c1b-9d0e-2b7a4f5e9c31")

// chunkPayload is the typed shape of a point payload. Qdrant payloads are decoded into it
// field by field and never passed around as raw value maps.
type chunkPayload struct {
	ID              string
	DocumentName    string
	Content         string
	EnhancedContent string
	Title           string
	Summary         string
	SourceFile      string
	Domains         []string
}

// pointID returns the surrogate Qdrant key for a chunk ID. The logical ID lives in the
// payload; the same chunk ID always maps to the same point, so upserts overwrite.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(chunkID)).String())
}

func payloadFromRecord(rec *ChunkRecord) chunkPayload {
	return chunkPayload{
		ID:              rec.ID,
		DocumentName:    rec.DocumentName,
		Content:         rec.Content,
		EnhancedContent: rec.EnhancedContent,
		Title:           rec.Title,
		Summary:         rec.Summary,
		SourceFile:      rec.SourceFile,
		Domains:         normalizeDomains(rec.Domains),
	}
}

// values converts the payload to Qdrant values.
func (p chunkPayload) values() map[string]*qdrant.Value {
	// NewValueMap handles []interface{} but not []string
	domains := make([]interface{}, len(p.Domains))
	for i, d := range p.Domains {
		domains[i] = d
	}

	return qdrant.NewValueMap(map[string]any{
		fieldID:              p.ID,
		fieldDocumentName:    p.DocumentName,
		fieldContent:         p.Content,
		fieldEnhancedContent: p.EnhancedContent,
		fieldTitle:           p.Title,
		fieldSummary:         p.Summary,
		fieldSourceFile:      p.SourceFile,
		fieldDomains:         domains,
	})
}

// decodePayload reads a point payload, defaulting missing or mistyped fields.
func decodePayload(values map[string]*qdrant.Value) chunkPayload {
	p := chunkPayload{
		ID:              values[fieldID].GetStringValue(),
		DocumentName:    values[fieldDocumentName].GetStringValue(),
		Content:         values[fieldContent].GetStringValue(),
		EnhancedContent: values[fieldEnhancedContent].GetStringValue(),
		Title:           values[fieldTitle].GetStringValue(),
		Summary:         values[fieldSummary].GetStringValue(),
		SourceFile:      values[fieldSourceFile].GetStringValue(),
	}

	for _, v := range values[fieldDomains].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			p.Domains = append(p.Domains, s)
		}
	}
	// Older points stored a single string
	if len(p.Domains) == 0 {
		if s := values[fieldDomains].GetStringValue(); s != "" {
			p.Domains = []string{s}
		}
	}
	p.Domains = normalizeDomains(p.Domains)

	return p
}

func (p chunkPayload) result(score float64) SearchResult {
	return SearchResult{
		ChunkRecord: &ChunkRecord{
			ID:              p.ID,
			DocumentName:    p.DocumentName,
			Content:         p.Content,
			EnhancedContent: p.EnhancedContent,
			Title:           p.Title,
			Summary:         p.Summary,
			SourceFile:      p.SourceFile,
			Domains:         p.Domains,
		},
		Score: score,
	}
}
