package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/burnroom/internal/auth"
)

// ContextKeyTicket is the context key for storing validated upload ticket claims.
const ContextKeyTicket = "ticket"

// TicketValidator checks upload tickets.
type TicketValidator interface {
	Validate(ticket string) (*auth.TicketClaims, error)
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TicketMiddleware rejects requests without a valid ?token= upload ticket.
func TicketMiddleware(tickets TicketValidator, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			logger.Debug().Msg("missing upload token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing token"})
			return
		}

		claims, err := tickets.Validate(token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid upload token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		c.Set(ContextKeyTicket, claims)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
