package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	core "kadmin/internal/service"
)

// AuthMiddleware requires a valid bearer token when auth is enabled and is a no-op otherwise
func AuthMiddleware(auth *core.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			core.AbortWithMessage(c, core.ErrUnauthorized, "missing bearer token")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			core.AbortWithMessage(c, core.ErrUnauthorized, "malformed authorization header")
			return
		}

		subject, err := auth.Verify(strings.TrimSpace(token))
		if err != nil {
			if errors.Is(err, core.ErrTokenExpired) {
				core.AbortWithMessage(c, core.ErrUnauthorized, "token expired")
			} else {
				core.AbortWithMessage(c, core.ErrUnauthorized, "invalid token")
			}
			return
		}

		c.Set("username", subject)
		c.Next()
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// loginHandler POST /api/auth/login
func loginHandler(auth *core.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.CanLogin() {
			core.FailWithMessage(c, core.ErrNotFound, "password login is not configured")
			return
		}

		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			core.FailWithMessage(c, core.ErrInvalidParam, err.Error())
			return
		}

		token, err := auth.Login(req.Username, req.Password)
		if err != nil {
			logger := core.WithRequestID(c)
			logger.Warn().Str("username", req.Username).Msg("Login rejected")
			core.FailWithMessage(c, core.ErrUnauthorized, "invalid credentials")
			return
		}

		core.Success(c, gin.H{
			"access_token": token,
			"token_type":   "bearer",
		})
	}
}
