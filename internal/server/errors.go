package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/chain"
	"github.com/MarcoPoloResearchLab/dailydust/internal/indexer"
	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/publish"
	"github.com/MarcoPoloResearchLab/dailydust/internal/reconcile"
	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest = "invalid_request"
	codeNotFound       = "not_found"
	codeDraftNotReady  = "draft_not_ready"
	codeInternal       = "internal_error"
)

type codedError interface {
	Code() string
}

// respondError maps domain errors onto status codes and writes {"error","code"}.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, code := classifyError(err)
	fields := []zap.Field{zap.String("operation", operation), zap.String("code", code), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func classifyError(err error) (int, string) {
	var (
		validation *localstore.ValidationError
		stepErr    *publish.StepError
		progErr    *publish.ProgressError
		chainErr   *chain.ChainError
		requestErr *indexer.RequestError
		coded      codedError
	)
	switch {
	case errors.Is(err, localstore.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, publish.ErrContentIncomplete), errors.Is(err, publish.ErrLocationRequired), errors.Is(err, publish.ErrLocationUnresolved):
		return http.StatusUnprocessableEntity, codeDraftNotReady
	case errors.As(err, &progErr):
		return http.StatusInternalServerError, "publish.progress_not_recorded"
	case errors.As(err, &stepErr):
		return http.StatusBadGateway, "publish." + stepErr.Step + ".failed"
	case errors.As(err, &chainErr):
		return http.StatusBadGateway, "chain." + chainErr.Function + ".failed"
	case errors.As(err, &coded):
		code := coded.Code()
		if strings.Contains(code, ".invalid_") {
			return http.StatusBadRequest, code
		}
		return http.StatusBadGateway, code
	case errors.As(err, &requestErr):
		return http.StatusBadGateway, "indexer.request_failed"
	case errors.Is(err, reconcile.ErrScanTooLarge):
		return http.StatusBadRequest, "nearby.scan_too_large"
	case errors.Is(err, storage.ErrNotLoaded):
		return http.StatusServiceUnavailable, "storage.not_loaded"
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "code": codeInvalidRequest})
}
