package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidTicket = errors.New("invalid upload ticket")

// TicketClaims bind an upload ticket to one connection in one room.
// The subject is the connection id.
type TicketClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// TicketConfig holds upload ticket signing configuration.
type TicketConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// Tickets signs and verifies upload tickets.
type Tickets struct {
	cfg TicketConfig
	now func() time.Time
}

// NewTickets returns a ticket signer. now may be nil.
func NewTickets(cfg TicketConfig, now func() time.Time) *Tickets {
	if now == nil {
		now = time.Now
	}
	return &Tickets{cfg: cfg, now: now}
}

// Issue signs a ticket for connID valid until expiresAt.
func (t *Tickets) Issue(roomID, connID string, expiresAt time.Time) (string, error) {
	claims := TicketClaims{
		Room: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   connID,
			Issuer:    t.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(t.now()),
		},
	}
	if t.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{t.cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}
	return signed, nil
}

// Validate parses a ticket and returns its claims.
func (t *Tickets) Validate(ticket string) (*TicketClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}
	if t.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(t.cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(*jwt.Token) (interface{}, error) {
		return t.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid || claims.Room == "" || claims.Subject == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
