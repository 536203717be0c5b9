package models

import "time"

// Collection is a named grouping of documents.
type Collection struct {
	CollectionID string    `json:"collectionId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CollectionDetail is a collection with ownership counts.
type CollectionDetail struct {
	Collection
	DocCount   int `json:"docCount"`
	ChunkCount int `json:"chunkCount"`
}

// Document is an ingested file. DocID is the content hash of the
// original bytes, so identical content resolves to the same document.
type Document struct {
	DocID        string     `json:"docId"`
	CollectionID string     `json:"collectionId"`
	SourceKey    string     `json:"sourceKey"`
	Name         string     `json:"name"`
	MimeType     string     `json:"mimeType"`
	SizeBytes    int64      `json:"sizeBytes"`
	ContentHash  string     `json:"contentHash"`
	IsDeleted    bool       `json:"isDeleted"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Chunk is the unit of retrieval: a contiguous slice of a document
// addressed by PointID = docId + "#" + chunkIndex.
type Chunk struct {
	PointID      string   `json:"pointId"`
	DocID        string   `json:"docId"`
	CollectionID string   `json:"collectionId"`
	ChunkIndex   int      `json:"chunkIndex"`
	TitleChain   []string `json:"titleChain"`
	ContentHash  string   `json:"contentHash"`
	Content      string   `json:"content"`
}

// ChunkPage is a paginated chunk listing.
type ChunkPage struct {
	Items []Chunk `json:"items"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}

// SearchSource identifies which retrieval path produced a result.
type SearchSource string

const (
	SourceKeyword  SearchSource = "keyword"
	SourceSemantic SearchSource = "semantic"
	SourceFused    SearchSource = "fused"
)

// SearchResult is a single hybrid search hit.
type SearchResult struct {
	PointID    string       `json:"pointId"`
	DocID      string       `json:"docId"`
	ChunkIndex int          `json:"chunkIndex"`
	TitleChain []string     `json:"titleChain"`
	Content    string       `json:"content"`
	Score      float64      `json:"score"`
	Source     SearchSource `json:"source"`
}

// ComponentHealth reports the state of one backing dependency.
type ComponentHealth struct {
	Status  string `json:"status"` // "ok", "down"
	Message string `json:"message,omitempty"`
}

// Health is the aggregate liveness report.
type Health struct {
	OK         bool                       `json:"ok"`
	Components map[string]ComponentHealth `json:"components"`
}
