package httpsvc

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	msgVerificationFailed = "payment verification failed"
	msgInternal           = "internal server error"
	msgGatewayUnavailable = "payment gateway unavailable"
)

// statusForError переводит доменную ошибку в HTTP-статус и текст для клиента.
func statusForError(err error) (int, string) {
	var gatewayErr *domain.GatewayError

	switch {
	case errors.Is(err, domain.ErrSignatureMismatch), errors.Is(err, domain.ErrGatewayOrderMismatch):
		return http.StatusBadRequest, msgVerificationFailed
	case domain.IsProductUnavailable(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrOrderNumberRequired),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrPaymentAlreadyRecorded),
		errors.Is(err, domain.ErrInvalidPaymentTransition),
		errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrOrderAlreadyExists):
		return http.StatusConflict, err.Error()
	case errors.As(err, &gatewayErr):
		if gatewayErr.Description != "" {
			return http.StatusBadGateway, gatewayErr.Description
		}
		return http.StatusBadGateway, msgGatewayUnavailable
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, message := statusForError(err)

	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: message})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: message})
}
