package httpsvc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	adminRole           = "admin"
	contextAdminSubject = "admin_subject"
)

// PrometheusMiddleware считает запросы и их длительность по шаблону маршрута.
func PrometheusMiddleware(m *metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		m.Observe(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// AdminAuth пропускает только запросы с HS256 Bearer-токеном и claim role=admin.
func AdminAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}

		token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}
		if role, _ := claims["role"].(string); role != adminRole {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "admin role required"})
			return
		}

		subject, _ := claims.GetSubject()
		c.Set(contextAdminSubject, subject)
		c.Next()
	}
}

// IssueAdminToken подписывает токен back-office с ролью admin.
func IssueAdminToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("admin secret is empty")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": adminRole,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if subject, ok := c.Get(contextAdminSubject); ok {
			fields["admin"] = subject
		}
		h.logger.WithFields(fields).Debug("request handled")
	}
}

func (h *Handler) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.logger.WithFields(log.Fields{
			"panic": recovered,
			"path":  c.Request.URL.Path,
		}).Error("panic recovered in http handler")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: msgInternal})
	})
}
