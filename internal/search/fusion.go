package search

import (
	"math"
	"sort"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// rrfK is the reciprocal rank fusion constant. 60 is the value from
// the original RRF paper and keeps single-list leaders from dominating
// the fused order.
const rrfK = 60

// scored is one fused candidate.
type scored struct {
	pointID     string
	score       float64
	source      models.SearchSource
	keywordRank int
}

// fuse merges the keyword and semantic rank lists with reciprocal rank
// fusion: each appearance contributes 1/(k + rank) with 1-based ranks,
// summed per point. Ties are broken by better keyword rank, then by
// point ID.
func fuse(keyword, semantic []string) []scored {
	byID := make(map[string]*scored, len(keyword)+len(semantic))

	ensure := func(id string) *scored {
		s, ok := byID[id]
		if !ok {
			s = &scored{pointID: id, keywordRank: math.MaxInt}
			byID[id] = s
		}
		return s
	}

	for i, id := range keyword {
		rank := i + 1
		s := ensure(id)
		s.score += 1.0 / float64(rrfK+rank)
		s.keywordRank = rank
		s.source = models.SourceKeyword
	}

	for i, id := range semantic {
		rank := i + 1
		s := ensure(id)
		s.score += 1.0 / float64(rrfK+rank)
		if s.source == models.SourceKeyword {
			s.source = models.SourceFused
		} else {
			s.source = models.SourceSemantic
		}
	}

	out := make([]scored, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].keywordRank != out[j].keywordRank {
			return out[i].keywordRank < out[j].keywordRank
		}
		return out[i].pointID < out[j].pointID
	})

	return out
}
