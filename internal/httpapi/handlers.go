package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"user-service/internal/auth"
)

func requestContext(c *gin.Context) context.Context {
	return auth.WithClientIP(c.Request.Context(), c.ClientIP())
}

// writeError maps engine sentinels onto status codes. Anything
// unclassified is a 500 with no detail.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrRegistrationInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, auth.ErrAccountExists):
		c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrSessionReuse):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, auth.ErrLoginRateLimited),
		errors.Is(err, auth.ErrRefreshRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
	case errors.Is(err, auth.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, auth.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.engine.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": serviceName,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

func (s *Server) metrics(c *gin.Context) {
	snap := s.engine.MetricsSnapshot()

	if s.gatherer != nil {
		counters, err := s.gatherer.Gather(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics collection failed"})
			return
		}
		// The latency histogram is not an otel instrument; it rides
		// along from the snapshot.
		c.JSON(http.StatusOK, gin.H{
			"counters": counters,
			"latency":  snap.Latency,
		})
		return
	}

	counters := make(map[string]uint64, len(snap.Counters))
	for id, value := range snap.Counters {
		counters[id.String()] = value
	}

	c.JSON(http.StatusOK, gin.H{
		"counters": counters,
		"latency":  snap.Latency,
	})
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	account, err := s.engine.Register(requestContext(c), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := s.engine.Login(requestContext(c), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := s.engine.Refresh(requestContext(c), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pair)
}

func (s *Server) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		s.engine.Logout(requestContext(c), req.RefreshToken)
	}
	// Always succeeds: the client is logging out either way.
	c.Status(http.StatusNoContent)
}

func (s *Server) me(c *gin.Context) {
	identity := c.MustGet(identityKey).(*auth.Identity)

	account, err := s.engine.Me(requestContext(c), identity.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

func (s *Server) logoutAll(c *gin.Context) {
	identity := c.MustGet(identityKey).(*auth.Identity)

	revoked, err := s.engine.LogoutAll(requestContext(c), identity.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}
