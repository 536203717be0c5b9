package idcodec

import (
	"errors"
	"strings"
	"testing"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

func TestDocID(t *testing.T) {
	content := []byte("hello world")

	id := DocID(content)
	if len(id) != 64 {
		t.Errorf("DocID should be 64 hex chars, got %d", len(id))
	}
	if id != strings.ToLower(id) {
		t.Error("DocID should be lowercase")
	}
	// Known SHA-256 of "hello world"
	if id != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("unexpected digest: %s", id)
	}
}

func TestDocID_Deterministic(t *testing.T) {
	a := DocID([]byte("same content"))
	b := DocID([]byte("same content"))
	c := DocID([]byte("other content"))

	if a != b {
		t.Error("identical content should produce identical ids")
	}
	if a == c {
		t.Error("different content should produce different ids")
	}
}

func TestPointID(t *testing.T) {
	id := PointID("abc123", 0)
	if id != "abc123#0" {
		t.Errorf("expected abc123#0, got %s", id)
	}
	if PointID("abc123", 42) != "abc123#42" {
		t.Errorf("expected abc123#42, got %s", PointID("abc123", 42))
	}
}

func TestPointID_NegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("negative index should panic")
		}
	}()
	PointID("abc", -1)
}

func TestParsePointID_RoundTrip(t *testing.T) {
	docID := DocID([]byte("doc"))
	for _, idx := range []int{0, 1, 10, 999} {
		pointID := PointID(docID, idx)

		gotDoc, gotIdx, err := ParsePointID(pointID)
		if err != nil {
			t.Fatalf("ParsePointID(%q) failed: %v", pointID, err)
		}
		if gotDoc != docID {
			t.Errorf("docID mismatch: got %s, want %s", gotDoc, docID)
		}
		if gotIdx != idx {
			t.Errorf("index mismatch: got %d, want %d", gotIdx, idx)
		}
	}
}

func TestParsePointID_Malformed(t *testing.T) {
	malformed := []string{
		"",
		"abc",
		"abc#",
		"#0",
		"#",
		"abc#-1",
		"abc#+1",
		"abc#007",
		"abc#1.5",
		"abc#x",
		"abc# 1",
	}

	for _, s := range malformed {
		_, _, err := ParsePointID(s)
		if err == nil {
			t.Errorf("ParsePointID(%q) should fail", s)
			continue
		}
		var ragErr *models.RAGError
		if !errors.As(err, &ragErr) {
			t.Errorf("ParsePointID(%q) should return a RAGError", s)
			continue
		}
		if ragErr.Code != models.ErrMalformedPointID {
			t.Errorf("ParsePointID(%q) code = %s, want %s", s, ragErr.Code, models.ErrMalformedPointID)
		}
	}
}

func TestContentHash_NewlineNormalization(t *testing.T) {
	unix := ContentHash("line one\nline two\n")
	windows := ContentHash("line one\r\nline two\r\n")
	mac := ContentHash("line one\rline two\r")

	if unix != windows {
		t.Error("CRLF should hash the same as LF")
	}
	if unix != mac {
		t.Error("CR should hash the same as LF")
	}
}

func TestContentHash_UnicodeNormalization(t *testing.T) {
	// U+00E9 (precomposed) vs U+0065 U+0301 (decomposed)
	composed := ContentHash("café")
	decomposed := ContentHash("café")

	if composed != decomposed {
		t.Error("NFC-equivalent text should hash identically")
	}
}

func TestContentHash_DistinctContent(t *testing.T) {
	if ContentHash("alpha") == ContentHash("beta") {
		t.Error("different text should produce different hashes")
	}
	if len(ContentHash("alpha")) != 64 {
		t.Error("ContentHash should be 64 hex chars")
	}
}
