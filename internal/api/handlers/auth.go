package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskgate/taskgate/internal/crypto"
	"github.com/taskgate/taskgate/internal/wire"
)

// AuthHandler mints control-API tokens for operators holding the master
// secret.
type AuthHandler struct {
	jwtManager   *crypto.JWTManager
	masterSecret string
}

// NewAuthHandler creates the token-minting handler.
func NewAuthHandler(jwtManager *crypto.JWTManager, masterSecret string) *AuthHandler {
	return &AuthHandler{jwtManager: jwtManager, masterSecret: masterSecret}
}

// RegisterRoutes mounts the auth endpoints. These sit outside the JWT
// middleware: the master secret itself is the credential.
func (h *AuthHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/auth/token", h.CreateToken)
}

// TokenRequest is the POST /v1/auth/token body.
type TokenRequest struct {
	Secret     string `json:"secret" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
	Email      string `json:"email"`
	Provider   string `json:"provider"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// CreateToken handles POST /v1/auth/token.
func (h *AuthHandler) CreateToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: err.Error()})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.masterSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, wire.ErrorResponse{Error: "invalid secret"})
		return
	}

	ttl := 24 * time.Hour
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	token, err := h.jwtManager.CreateToken(req.Subject, req.Provider, req.Email, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
