package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mazl/internal/config"
	"mazl/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const wsTicketPrefix = "ws_ticket:"

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrTicketStoreUnavailable is returned when tickets cannot be issued.
	ErrTicketStoreUnavailable = errors.New("websocket ticket store unavailable")
)

// Authenticator resolves requests to the user identity issued by the
// identity service: an HS256 bearer token, or a single-use websocket ticket.
type Authenticator struct {
	secret    []byte
	issuer    string
	audience  string
	redis     *redis.Client
	ticketTTL time.Duration
}

// NewAuthenticator builds an Authenticator from config. rdb may be nil, in
// which case websocket tickets are unavailable.
func NewAuthenticator(cfg *config.Config, rdb *redis.Client) *Authenticator {
	ttl := time.Duration(cfg.WSTicketTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Authenticator{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		audience:  cfg.JWTAudience,
		redis:     rdb,
		ticketTTL: ttl,
	}
}

// IssueToken signs a token for userID. Used by dev tooling and tests; real
// tokens come from the identity service.
func (a *Authenticator) IssueToken(userID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iss": a.issuer,
		"aud": a.audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken verifies tokenString and returns the subject user id.
func (a *Authenticator) ParseToken(tokenString string) (uint, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	token, err := jwt.Parse(tokenString, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return 0, ErrInvalidToken
	}
	return uint(userID), nil
}

// IssueTicket stores a short-lived single-use ticket for opening the realtime channel.
func (a *Authenticator) IssueTicket(ctx context.Context, userID uint) (string, time.Duration, error) {
	if a.redis == nil {
		return "", 0, ErrTicketStoreUnavailable
	}
	ticket := uuid.NewString()
	if err := a.redis.Set(ctx, wsTicketPrefix+ticket, userID, a.ticketTTL).Err(); err != nil {
		return "", 0, fmt.Errorf("store ws ticket: %w", err)
	}
	return ticket, a.ticketTTL, nil
}

// ConsumeTicket redeems a ticket exactly once.
func (a *Authenticator) ConsumeTicket(ctx context.Context, ticket string) (uint, error) {
	if a.redis == nil {
		return 0, ErrTicketStoreUnavailable
	}
	raw, err := a.redis.GetDel(ctx, wsTicketPrefix+ticket).Result()
	if err != nil {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || userID == 0 {
		return 0, ErrInvalidToken
	}
	return uint(userID), nil
}

// Required enforces authentication. Websocket paths accept only tickets so
// that long-lived bearer tokens never appear in URLs.
func (a *Authenticator) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isWSPath := strings.HasPrefix(c.Path(), "/api/ws") && c.Method() == fiber.MethodGet

		if ticket := c.Query("ticket"); ticket != "" {
			userID, err := a.ConsumeTicket(c.UserContext(), ticket)
			if err == nil {
				return a.authenticated(c, userID)
			}
			if isWSPath {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
		}

		if isWSPath {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("WebSocket ticket required"))
		}

		authHeader := c.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		userID, err := a.ParseToken(parts[1])
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}
		return a.authenticated(c, userID)
	}
}

func (a *Authenticator) authenticated(c *fiber.Ctx, userID uint) error {
	c.Locals("userID", userID)
	c.SetUserContext(WithUserID(c.UserContext(), userID))
	return c.Next()
}
