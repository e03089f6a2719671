package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const currentUserKey = "current_user"

// SessionClaims são as claims do token de sessão emitido pelo provedor de identidade
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SessionVerifier resolves the caller's identity from an HS256 session token.
// The identity is trusted at face value once the token verifies.
type SessionVerifier struct {
	secret     []byte
	cookieName string
	now        func() time.Time
}

func NewSessionVerifier(cfg SessionConfig) *SessionVerifier {
	return &SessionVerifier{
		secret:     []byte(cfg.Secret),
		cookieName: cfg.CookieName,
		now:        time.Now,
	}
}

// Verify parses and validates a session token.
func (v *SessionVerifier) Verify(token string) (*CurrentUser, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token without subject", ErrUnauthenticated)
	}

	return &CurrentUser{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	}, nil
}

// Issue signs a session token for user. Used by the token command for local testing.
func (v *SessionVerifier) Issue(user CurrentUser, ttl time.Duration) (string, error) {
	now := v.now()
	claims := SessionClaims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid session, accepting the session cookie
// or an Authorization bearer token. A stale cookie does not shadow a valid bearer token.
func (v *SessionVerifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.authenticate(c)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(currentUserKey, user)
		c.Next()
	}
}

func (v *SessionVerifier) authenticate(c *gin.Context) (*CurrentUser, error) {
	var err error = ErrUnauthenticated
	for _, token := range v.tokensFromRequest(c) {
		var user *CurrentUser
		if user, err = v.Verify(token); err == nil {
			return user, nil
		}
	}
	return nil, err
}

// ClearSession expires the session cookie on the client.
func (v *SessionVerifier) ClearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(v.cookieName, "", -1, "/", "", true, true)
}

// tokensFromRequest returns the cookie token first, then the bearer token.
func (v *SessionVerifier) tokensFromRequest(c *gin.Context) []string {
	var tokens []string
	if cookie, err := c.Cookie(v.cookieName); err == nil && cookie != "" {
		tokens = append(tokens, cookie)
	}
	auth := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && strings.TrimSpace(token) != "" {
		tokens = append(tokens, strings.TrimSpace(token))
	}
	return tokens
}

func currentUser(c *gin.Context) (*CurrentUser, error) {
	value, ok := c.Get(currentUserKey)
	if !ok {
		return nil, ErrUnauthenticated
	}
	user, ok := value.(*CurrentUser)
	if !ok || user == nil {
		return nil, errors.New("current user has unexpected type")
	}
	return user, nil
}
