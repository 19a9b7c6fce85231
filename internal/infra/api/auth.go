package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sanskrit-enrollment/internal/domain/model"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

type AuthConfig struct {
	HMACSecret []byte
	Issuer     string
	TTL        time.Duration
}

// AuthManager mints and parses the bearer tokens issued by the platform's
// identity service. Subject is the actor id.
type AuthManager struct{ cfg AuthConfig }

func NewAuthManager(secret, issuer string, ttl time.Duration) *AuthManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthManager{cfg: AuthConfig{
		HMACSecret: []byte(secret),
		Issuer:     issuer,
		TTL:        ttl,
	}}
}

type ActorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Mint is used by the seed tool and tests; production tokens come from the
// identity service with the same secret.
func (a *AuthManager) Mint(actor model.Actor) (string, error) {
	if actor.ID == "" || !actor.Role.Valid() {
		return "", fmt.Errorf("mint: invalid actor %q/%q", actor.ID, actor.Role)
	}
	now := time.Now()
	claims := ActorClaims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TTL)),
			Subject:   actor.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.cfg.HMACSecret)
}

func (a *AuthManager) ActorFromRequest(r *http.Request) (model.Actor, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" || !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return model.Actor{}, errMissingToken
	}
	claims, err := a.parse(strings.TrimSpace(hdr[7:]))
	if err != nil {
		return model.Actor{}, err
	}
	role := model.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return model.Actor{}, errInvalidToken
	}
	return model.Actor{ID: claims.Subject, Role: role}, nil
}

func (a *AuthManager) parse(tok string) (*ActorClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	claims := &ActorClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.cfg.HMACSecret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}
