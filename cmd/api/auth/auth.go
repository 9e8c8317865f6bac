// Package auth validates the technician identity of incoming requests.
// Two modes exist: "local" (HS256 tokens issued by the login endpoint) and
// "oidc" (tokens verified against a JWKS endpoint).
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	app "github.com/ptessari/devicedesk-go/cmd/api/app"
)

// AuthUser represents the authenticated technician.
type AuthUser struct {
	ExternalID  string   `json:"external_id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

// Middleware performs JWT validation or bypass during tests.
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			c.Set("user", AuthUser{
				ExternalID:  "test",
				Email:       "test@example.com",
				DisplayName: "Test Technician",
				Roles:       []string{"technician"},
			})
			c.Next()
			return
		}
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		keyf := a.Keyf
		if a.Cfg.AuthMode == "local" {
			secret := []byte(a.Cfg.AuthLocalSecret)
			keyf = func(t *jwt.Token) (interface{}, error) { return secret, nil }
		}
		if keyf == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
			return
		}
		token, err := jwt.Parse(tokenStr, keyf)
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		u := AuthUser{
			ExternalID:  stringClaim(claims, "sub"),
			Email:       stringClaim(claims, "email"),
			DisplayName: stringClaim(claims, "name"),
		}
		if u.DisplayName == "" {
			u.DisplayName = stringClaim(claims, "preferred_username")
		}
		if groups, ok := claims[a.Cfg.OIDCGroupClaim]; ok {
			switch g := groups.(type) {
			case []interface{}:
				for _, v := range g {
					if s, ok := v.(string); ok {
						u.Roles = append(u.Roles, s)
					}
				}
			case []string:
				u.Roles = append(u.Roles, g...)
			case string:
				u.Roles = append(u.Roles, g)
			}
		}
		c.Set("user", u)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := c.Cookie("auth"); err == nil {
		return cookie
	}
	return ""
}

func stringClaim(c jwt.MapClaims, key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Me returns the authenticated technician.
func Me(c *gin.Context) {
	u, ok := c.Get("user")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// RequireRole ensures the user has one of the required roles. "admin"
// passes every gate.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uVal, ok := c.Get("user")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		user, ok := uVal.(AuthUser)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}
		for _, have := range user.Roles {
			if have == "admin" {
				c.Next()
				return
			}
			for _, want := range roles {
				if have == want {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// CurrentTechnician returns the display name of the acting technician, or
// the empty string if unauthenticated.
func CurrentTechnician(c *gin.Context) string {
	if uVal, ok := c.Get("user"); ok {
		if u, ok := uVal.(AuthUser); ok {
			return u.DisplayName
		}
	}
	return ""
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login issues a local HS256 token for the configured admin account.
func Login(a *app.App, adminHash []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.AuthMode != "local" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "login disabled"})
			return
		}
		var in loginReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if in.Username != "admin" || bcrypt.CompareHashAndPassword(adminHash, []byte(in.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		claims := jwt.MapClaims{
			"sub":    "admin",
			"name":   "Administrator",
			"groups": []string{"technician", "admin"},
			"iat":    time.Now().Unix(),
			"exp":    time.Now().Add(24 * time.Hour).Unix(),
			"mode":   "local",
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		s, err := token.SignedString([]byte(a.Cfg.AuthLocalSecret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token"})
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie("auth", s, 86400, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"token": s})
	}
}
