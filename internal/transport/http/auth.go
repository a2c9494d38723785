package httptransport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"voicenote-ingest-go/internal/platform/logging"
)

// DefaultTokenTTL 签发令牌的默认有效期
const DefaultTokenTTL = 30 * 24 * time.Hour

// TokenIssuer signs and verifies HS256 API tokens.
type TokenIssuer struct {
	secretKey []byte
	ttl       time.Duration
}

// NewTokenIssuer builds a token helper using the provided secret.
func NewTokenIssuer(secretKey string) *TokenIssuer {
	return &TokenIssuer{secretKey: []byte(secretKey), ttl: DefaultTokenTTL}
}

// WithTTL allows customising the expiration duration.
func (t *TokenIssuer) WithTTL(ttl time.Duration) *TokenIssuer {
	if ttl > 0 {
		t.ttl = ttl
	}
	return t
}

// Generate issues a token for subject.
func (t *TokenIssuer) Generate(subject string) (string, error) {
	if t == nil || len(t.secretKey) == 0 {
		return "", errors.New("token secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates the token and returns its subject.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	if t == nil || len(t.secretKey) == 0 {
		return "", errors.New("token secret is empty")
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// BearerAuth 校验 Authorization: Bearer <token>，通过后把 subject 写入上下文。
// 浏览器 WebSocket 无法设置请求头，因此也接受 ?token= 参数。
func BearerAuth(issuer *TokenIssuer, logger *logging.Logger) gin.HandlerFunc {
	logger = logging.OrDefault(logger)
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			raw, ok = c.GetQuery("token")
		}
		if !ok || strings.TrimSpace(raw) == "" {
			RespondError(c, http.StatusUnauthorized, "missing bearer token", nil)
			c.Abort()
			return
		}
		subject, err := issuer.Verify(strings.TrimSpace(raw))
		if err != nil {
			logger.WarnTag("HTTP", "令牌校验失败 %s: %v", c.ClientIP(), err)
			RespondError(c, http.StatusUnauthorized, "invalid token", nil)
			c.Abort()
			return
		}
		c.Set("subject", subject)
		c.Next()
	}
}
