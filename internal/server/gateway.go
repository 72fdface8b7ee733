package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/auth"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	messageAuthenticationRequired = "authentication required"
	messageAuthenticationFailed   = "authentication failed"
	messageNotAdministrator       = "valid identity, not an administrator"
)

// requireAdmin authenticates the bearer credential and then checks the
// allow-list. It never writes audit entries; handlers do.
func (h *httpHandler) requireAdmin(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		h.observeGateway(metrics.OutcomeUnauthenticated)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": messageAuthenticationRequired})
		return
	}

	identity, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		h.observeGateway(metrics.OutcomeUnauthenticated)
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("credential verification failed", zap.Error(err))
		} else {
			h.logger.Warn("credential verification failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": messageAuthenticationFailed})
		return
	}

	if !h.admins.IsAuthorized(identity.Email) {
		h.observeGateway(metrics.OutcomeForbidden)
		h.logger.Warn("non-admin identity rejected",
			zap.String("email", identity.Email),
			zap.String("subject", identity.Subject))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": messageNotAdministrator})
		return
	}

	h.observeGateway(metrics.OutcomeAllowed)
	c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), identity))
	c.Next()
}

func (h *httpHandler) observeGateway(outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveGateway(outcome)
	}
}

// actor returns the identity attached by requireAdmin.
func actor(c *gin.Context) (auth.Identity, bool) {
	return auth.IdentityFromContext(c.Request.Context())
}
