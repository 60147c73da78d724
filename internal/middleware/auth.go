package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ownerKey = "owner"

var errInvalidToken = errors.New("invalid token")

// AuthConfig конфигурация аутентификации
type AuthConfig struct {
	// APIKeys карта API ключей к владельцам
	APIKeys map[string]string
	// JWTSecret секрет HS256; пустой отключает JWT
	JWTSecret string
	// HeaderName имя заголовка для API ключа (по умолчанию: X-API-Key)
	HeaderName string
}

// Authenticator определяет владельца запроса по API ключу или JWT (claim sub)
type Authenticator struct {
	config    AuthConfig
	jwtSecret []byte
}

// NewAuthenticator создаёт middleware аутентификации
func NewAuthenticator(config AuthConfig) *Authenticator {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &Authenticator{
		config:    config,
		jwtSecret: []byte(config.JWTSecret),
	}
}

// Middleware требует валидные учётные данные
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := a.credential(c)
		if credential == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_credentials",
				"message": "Передайте API ключ в заголовке X-API-Key, query параметре api_key или Authorization: Bearer",
			})
			c.Abort()
			return
		}

		owner, ok := a.ownerForKey(credential)
		if !ok {
			var err error
			if owner, err = a.ownerForToken(credential); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "invalid_credentials",
					"message": "Невалидный API ключ или токен",
				})
				c.Abort()
				return
			}
		}

		c.Set(ownerKey, owner)
		c.Next()
	}
}

// credential header, затем query (браузерный WebSocket не умеет заголовки), затем Bearer
func (a *Authenticator) credential(c *gin.Context) string {
	if v := c.GetHeader(a.config.HeaderName); v != "" {
		return v
	}
	if v := c.Query("api_key"); v != "" {
		return v
	}
	if v := c.GetHeader("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return ""
}

// ownerForKey сравнение в constant time
func (a *Authenticator) ownerForKey(key string) (string, bool) {
	for validKey, owner := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			return owner, true
		}
	}
	return "", false
}

func (a *Authenticator) ownerForToken(tokenString string) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	if claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// Owner владелец, установленный Authenticator
func Owner(c *gin.Context) (string, bool) {
	v, exists := c.Get(ownerKey)
	if !exists {
		return "", false
	}
	owner, ok := v.(string)
	return owner, ok && owner != ""
}
