package httpsvc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	headerIdempotencyKey   = "Idempotency-Key"
	headerIdempotentReplay = "Idempotent-Replayed"
	defaultIdempotencyTTL  = 24 * time.Hour
	maxIdempotentBody      = 1 << 20
)

// bodyRecorder копирует ответ обработчика, чтобы сохранить его в кэш идемпотентности.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent отдаёт сохранённый ответ на повтор запроса с тем же Idempotency-Key.
// Без заголовка запрос обрабатывается как обычно.
func (h *Handler) idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.idem == nil {
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotentBody))
		if err != nil {
			badRequest(c, "invalid request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		record, err := h.idem.CreateProcessing(ctx, key, requestHash(c.Request.Method, c.FullPath(), body), time.Now().UTC().Add(h.idemTTL))
		if err != nil {
			h.replayIdempotent(c, err, record)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		response := recorder.body.Bytes()
		logger := h.logger.WithField("idempotency_key", key)

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			if err := h.idem.MarkDone(ctx, key, response, status); err != nil {
				logger.WithError(err).Warn("failed to store idempotent success response")
			}
			return
		}
		if err := h.idem.MarkFailed(ctx, key, response, status); err != nil {
			logger.WithError(err).Warn("failed to store idempotency failure response")
		}
	}
}

func (h *Handler) replayIdempotent(c *gin.Context, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: "idempotency key is already used with different request payload"})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusProcessing:
			c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			writeReplay(c, record)
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "unknown idempotency record status"})
		}
	default:
		h.logger.WithError(createErr).Warn("failed to create idempotency record")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "failed to initialize idempotency request"})
	}
}

func writeReplay(c *gin.Context, record domain.IdempotencyRecord) {
	status := record.HTTPStatus
	if status < http.StatusOK || status > 599 {
		status = http.StatusInternalServerError
	}

	c.Header(headerIdempotentReplay, "true")
	if len(record.ResponseBody) == 0 || !json.Valid(record.ResponseBody) {
		if status < http.StatusBadRequest {
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "idempotency cache is empty"})
			return
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: "previous request with the same idempotency key failed"})
		return
	}
	c.Data(status, "application/json; charset=utf-8", record.ResponseBody)
	c.Abort()
}

func requestHash(method, route string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(route)+2+len(body))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, route...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
