// Package idcodec provides deterministic identifiers for documents and
// chunks. Documents are content-addressed, so identical bytes always
// resolve to the same docId and re-ingestion is idempotent.
package idcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// DocID returns the lowercase hex SHA-256 of the raw file bytes.
func DocID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// PointID addresses one chunk of a document: docId + "#" + chunkIndex.
// The index must not be negative.
func PointID(docID string, index int) string {
	if index < 0 {
		panic("idcodec: negative chunk index")
	}
	return docID + "#" + strconv.Itoa(index)
}

// ContentHash returns the SHA-256 hex of the text after NFC unicode
// normalization and newline normalization to LF. Two chunks that differ
// only in line endings or unicode composition hash identically.
func ContentHash(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = norm.NFC.String(normalized)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ParsePointID splits a pointId back into (docId, chunkIndex). The
// index must round-trip through PointID exactly, so "+3", "-1" and
// "007" are all rejected.
func ParsePointID(s string) (string, int, error) {
	sep := strings.LastIndexByte(s, '#')
	if sep <= 0 || sep == len(s)-1 {
		return "", 0, models.NewError(models.ErrMalformedPointID, "point id must be docId#index").
			WithDetails("pointId", s)
	}

	docID := s[:sep]
	index, err := strconv.Atoi(s[sep+1:])
	if err != nil || index < 0 || strconv.Itoa(index) != s[sep+1:] {
		return "", 0, models.NewError(models.ErrMalformedPointID, "point id has a malformed chunk index").
			WithDetails("pointId", s)
	}

	return docID, index, nil
}
