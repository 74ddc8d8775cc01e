package routers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// key for username in gin.Context
const AuthUserName string = "_greenhouse.UserName"

type Claims struct {
	UserName string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// ValidateJWT verifies the HS256 bearer token minted by the login service and
// stores its subject, the owner id, as gin.AuthUserKey.
func ValidateJWT(logger *zap.SugaredLogger, key []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}
	return func(c *gin.Context) {
		authz := c.Request.Header.Get("Authorization")
		if authz == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authz, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		var claims Claims
		token, err := parser.ParseWithClaims(parts[1], &claims, keyFunc)
		if err != nil || !token.Valid {
			logger.Debugw("rejected token", "error", err)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		userId, err := uuid.Parse(claims.Subject)
		if err != nil {
			logger.Debugw("token subject is not a user id", "error", err)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(gin.AuthUserKey, userId)
		c.Set(AuthUserName, claims.UserName)
		c.Next()
	}
}
