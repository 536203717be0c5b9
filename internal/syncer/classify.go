package syncer

import (
	"context"
	"errors"
	"net"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// Classify maps a pipeline error to a retry category. Adapters wrap
// dependency failures into coded errors, so the switch on the code
// carries most of the weight; timeouts are checked first because a
// deadline error may also carry a code from the layer that hit it.
func Classify(err error) models.ErrorCategory {
	if err == nil {
		return models.CategoryUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.CategoryTransientNetwork
	}

	var ragErr *models.RAGError
	if errors.As(err, &ragErr) {
		switch ragErr.Code {
		case models.ErrEmbedRateLimited:
			return models.CategoryTransientRateLimit
		case models.ErrStoreUnavailable, models.ErrVectorUnavailable:
			return models.CategoryTransientStore
		case models.ErrEmbedUnavailable:
			return models.CategoryTransientNetwork
		case models.ErrEmbedAuth, models.ErrEmbedBadRequest, models.ErrVectorClient:
			return models.CategoryPermanentClient
		case models.ErrEmbedCount, models.ErrIntegrity, models.ErrEmptyInput, models.ErrMalformedPointID:
			return models.CategoryPermanentData
		case models.ErrDocumentNotFound, models.ErrCollectionNotFound:
			return models.CategoryPermanentData
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.CategoryTransientNetwork
	}

	return models.CategoryUnknown
}
