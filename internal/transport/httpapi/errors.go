package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// Коды ошибок в теле ответа.
const (
	codeInvalidArgument   = "invalid_argument"
	codeValidationFailed  = "validation_failed"
	codeInvalidState      = "invalid_state"
	codeNotFound          = "not_found"
	codeVersionConflict   = "version_conflict"
	codePersistence       = "persistence_failure"
	codeRequestCanceled   = "request_canceled"
	codeInternal          = "internal"
	statusClientCanceled  = 499
	messageInternalError  = "internal server error"
	messageStoreNotServed = "order store is unavailable"
)

// writeError переводит доменную ошибку в HTTP-статус и тело {"error", "message"}.
func writeError(c *gin.Context, logger *log.Entry, err error) {
	status, code, message := classify(err)

	entry := logger.WithError(err).WithFields(log.Fields{
		"status": status,
		"route":  c.FullPath(),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: code, Message: message})
}

func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, codeInvalidArgument, err.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, codeNotFound, domain.ErrOrderNotFound.Error()
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, codeInvalidState, err.Error()
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict, codeVersionConflict, "order was modified concurrently, retry the request"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError, codePersistence, messageStoreNotServed
	case errors.Is(err, context.Canceled):
		return statusClientCanceled, codeRequestCanceled, "request canceled"
	default:
		return http.StatusInternalServerError, codeInternal, messageInternalError
	}
}

func writeBadRequest(c *gin.Context, code, message string, fields map[string]string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: code, Message: message, Fields: fields})
}
