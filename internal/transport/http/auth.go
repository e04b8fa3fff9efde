package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
)

// Роли субъектов API. Покупатель видит только свои заказы,
// админ управляет верификацией оплат и исполнением.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

const (
	contextKeyUserID = "userID"
	contextKeyRole   = "role"
)

// Claims — полезная нагрузка JWT-токена.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

// GenerateToken выпускает подписанный HS256-токен для пользователя.
func GenerateToken(secret, userID, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(ttl).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// AuthMiddleware проверяет Bearer-токен и кладёт субъект в контекст запроса.
func AuthMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid authorization header format"})
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenParts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			}
			if claims.UserID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "token has no subject"})
			}

			c.Set(contextKeyUserID, claims.UserID)
			role := claims.Role
			if role == "" {
				role = RoleCustomer
			}
			c.Set(contextKeyRole, role)
			return next(c)
		}
	}
}

// RequireAdmin пропускает только запросы с админской ролью.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if role, _ := c.Get(contextKeyRole).(string); role != RoleAdmin {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "admin access required"})
		}
		return next(c)
	}
}

func currentUserID(c echo.Context) string {
	userID, _ := c.Get(contextKeyUserID).(string)
	return userID
}

// scopeUserID возвращает идентификатор для owner-фильтра: пустая строка
// для админа означает доступ к любому заказу.
func scopeUserID(c echo.Context) string {
	if role, _ := c.Get(contextKeyRole).(string); role == RoleAdmin {
		return ""
	}
	return currentUserID(c)
}
