package httpmiddleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// SubjectKey 是认证通过后 gin 上下文中保存调用方标识的键。
const SubjectKey = "subject"

// JWTAuth 创建一个 Gin 中间件，校验 HMAC 签名的 Bearer token。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, "missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, "malformed Authorization header")
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			abort(c, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abort(c, "invalid token claims")
			return
		}
		// sub 既可能是字符串也可能是数字
		switch sub := claims["sub"].(type) {
		case string:
			c.Set(SubjectKey, sub)
		case float64:
			c.Set(SubjectKey, fmt.Sprintf("%.0f", sub))
		default:
			abort(c, "invalid token claims")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorBody(http.StatusUnauthorized, message))
}
