package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var authTracer = otel.Tracer("service/auth")

// AuthService verifies HS256 access tokens and loads the account record
// behind them.
type AuthService struct {
	store     port.RecordStore
	jwtSecret []byte
	logger    *zap.Logger
}

// NewAuthService creates a new auth service. store may be nil, in which
// case principals carry only what the token claims.
func NewAuthService(store port.RecordStore, jwtSecret string, logger *zap.Logger) *AuthService {
	return &AuthService{store: store, jwtSecret: []byte(jwtSecret), logger: logger}
}

// JWTClaims represents the claims carried by access tokens.
type JWTClaims struct {
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
	AppRole string `json:"app_role,omitempty"`
	jwt.RegisteredClaims
}

// ============================================================
// Authenticate: used by middleware
// ============================================================

// Authenticate validates the token and returns the principal. Missing
// email or roles are filled from the users record; a failed lookup keeps
// the token's values.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*domain.Principal, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Authenticate")
	defer span.End()

	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, err
	}
	p := &domain.Principal{
		ID:      claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
		AppRole: claims.AppRole,
	}
	span.SetAttributes(attribute.String("principal.id", p.ID))

	if s.store != nil && (p.Email == "" || p.Role == "" || p.AppRole == "") {
		var u domain.User
		err := s.store.Get(ctx, domain.TableUsers, p.ID, &u)
		var nf *domain.ErrNotFound
		switch {
		case err == nil:
			if p.Email == "" {
				p.Email = u.Email
			}
			if p.Role == "" {
				p.Role = u.Role
			}
			if p.AppRole == "" {
				p.AppRole = u.AppRole
			}
		case errors.As(err, &nf):
		default:
			s.logger.Warn("principal enrichment failed", zap.String("principal_id", p.ID), zap.Error(err))
		}
	}
	p.AppRole = domain.NormalizeAppRole(p.AppRole)
	return p, nil
}

// ValidateAccessToken parses and verifies an HS256 token.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "token has no subject"}
	}
	return claims, nil
}

// IssueToken signs an access token for principal. The auth platform issues
// tokens in production; this serves local tooling and tests.
func (s *AuthService) IssueToken(p *domain.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Email:   p.Email,
		Role:    p.Role,
		AppRole: p.AppRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "lending-bfa",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
