package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cwrk-planet/deal-chat/internal/domain"
)

// Authenticator — внешний identity provider: токен -> id пользователя.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type Config struct {
	// HS256-секрет; используется, если не задан PublicKeyPath.
	Secret string
	// PEM с RSA-ключом для RS256 (токены auth-service).
	PublicKeyPath string
	Issuer        string
	Audience      string
	ClockSkew     time.Duration
}

// JWTAuthenticator проверяет подпись, exp/nbf с допуском ClockSkew, iss и aud.
// Пользователь — claim sub.
type JWTAuthenticator struct {
	key     any
	method  string
	parser  *jwt.Parser
	nowFunc func() time.Time
}

var _ Authenticator = (*JWTAuthenticator)(nil)

func NewJWTAuthenticator(cfg Config) (*JWTAuthenticator, error) {
	a := &JWTAuthenticator{nowFunc: time.Now}

	switch {
	case cfg.PublicKeyPath != "":
		pub, err := LoadRSAPublicKeyFromPEM(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load public key: %w", err)
		}
		a.key, a.method = pub, jwt.SigningMethodRS256.Alg()
	case cfg.Secret != "":
		a.key, a.method = []byte(cfg.Secret), jwt.SigningMethodHS256.Alg()
	default:
		return nil, errors.New("identity: either secret or public key path is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{a.method}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.nowFunc() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	a.parser = jwt.NewParser(opts...)
	return a, nil
}

// Authenticate возвращает sub токена или ошибку, оборачивающую domain.ErrUnauthorized.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	sub, _ := claims.GetSubject()
	sub = strings.TrimSpace(sub)
	// system зарезервирован под автоматические действия
	if sub == "" || sub == domain.SystemActor {
		return "", fmt.Errorf("%w: invalid subject", domain.ErrUnauthorized)
	}
	return sub, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(b)
}

// TokenFromRequest — Bearer из Authorization, иначе ?access_token=
// (браузер не умеет ставить заголовки на upgrade).
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

type ctxKey struct{}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func UserFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKey{}).(string)
	return uid, ok && uid != ""
}
