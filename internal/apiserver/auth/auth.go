// Package auth 用户认证：JWT 令牌管理、密码哈希、会话 Cookie、HTTP 中间件
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// contextKey context 键类型
type contextKey string

const ctxKeyAuthUser contextKey = "auth_user"

// 令牌解析失败的两类结果：过期与其余一切无效情形。
// 客户端只需要区分"该刷新了"和"该重新登录了"。
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// AuthUser 从 JWT 解析出的用户信息
type AuthUser struct {
	ID       string
	Email    string
	Username string
	Role     string // "admin" | "user"
}

// Config 认证配置
//
// 访问令牌与刷新令牌用不同的密钥签名，拿到其中一个密钥
// 不能伪造另一类令牌。
type Config struct {
	AccessTokenSecret  string        `yaml:"-"` // ACCESS_TOKEN_SECRET 环境变量
	RefreshTokenSecret string        `yaml:"-"` // REFRESH_TOKEN_SECRET 环境变量
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl"`
	SecureCookies      bool          `yaml:"-"` // 生产环境置 true
	FrontendURL        string        `yaml:"-"` // 邮件里验证/重置链接的基地址
}

// DefaultConfig 返回默认认证配置
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
}

// ============================================================================
// 密码哈希
// ============================================================================

// HashPassword 使用 bcrypt 哈希密码
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	return string(bytes), err
}

// CheckPassword 验证密码，哈希损坏或不匹配都返回 false
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ============================================================================
// JWT Token
// ============================================================================

// Claims JWT 声明
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	Type     string `json:"type,omitempty"` // "access" | "refresh"
}

// GenerateAccessToken 生成访问令牌
func GenerateAccessToken(cfg Config, userID, email, username, role string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.AccessTokenTTL)),
		},
		Email:    email,
		Username: username,
		Role:     role,
		Type:     "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.AccessTokenSecret))
}

// GenerateRefreshToken 生成刷新令牌
//
// 只带 Subject，不带邮箱/角色：刷新时总是回库取最新的用户状态。
func GenerateRefreshToken(cfg Config, userID string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.RefreshTokenTTL)),
		},
		Type: "refresh",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.RefreshTokenSecret))
}

// ParseAccessToken 解析并验证访问令牌
func ParseAccessToken(cfg Config, tokenString string) (*Claims, error) {
	return parseToken(cfg.AccessTokenSecret, tokenString, "access")
}

// ParseRefreshToken 解析并验证刷新令牌
func ParseRefreshToken(cfg Config, tokenString string) (*Claims, error) {
	return parseToken(cfg.RefreshTokenSecret, tokenString, "refresh")
}

func parseToken(secret, tokenString, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != wantType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ============================================================================
// 一次性临时令牌（邮箱验证 / 密码重置）
//
// 明文只出现在发给用户的链接里，库里只存 sha256 摘要。
// ============================================================================

// NewTempToken 生成一次性令牌，返回明文、入库摘要与过期时间
func NewTempToken(ttl time.Duration) (raw, hash string, expiry time.Time, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate temp token: %w", err)
	}
	raw = hex.EncodeToString(b)
	return raw, HashToken(raw), time.Now().Add(ttl), nil
}

// HashToken 令牌的入库摘要（sha256 十六进制）
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ConsumeTempToken 校验明文令牌与入库摘要是否匹配且未过期
func ConsumeTempToken(raw, storedHash string, expiry *time.Time) bool {
	if raw == "" || storedHash == "" || expiry == nil {
		return false
	}
	if time.Now().After(*expiry) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(raw)), []byte(storedHash)) == 1
}

// ============================================================================
// 会话 Cookie
// ============================================================================

const (
	cookieAccessToken  = "accessToken"
	cookieRefreshToken = "refreshToken"
)

// setAuthCookies 下发令牌 Cookie
//
// 两个 Cookie 的 MaxAge 都按刷新令牌有效期设置：访问令牌过期后
// Cookie 仍在，前端凭它触发刷新。
func setAuthCookies(w http.ResponseWriter, cfg Config, accessToken, refreshToken string) {
	maxAge := int(cfg.RefreshTokenTTL.Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     cookieAccessToken,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     cookieRefreshToken,
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearAuthCookies 清除令牌 Cookie
func clearAuthCookies(w http.ResponseWriter, cfg Config) {
	for _, name := range []string{cookieAccessToken, cookieRefreshToken} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.SecureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// ============================================================================
// Context 辅助函数
// ============================================================================

// WithAuthUser 将认证用户信息注入 context
func WithAuthUser(ctx context.Context, user *AuthUser) context.Context {
	return context.WithValue(ctx, ctxKeyAuthUser, user)
}

// GetAuthUser 从 context 获取认证用户，未认证返回 nil
func GetAuthUser(ctx context.Context) *AuthUser {
	user, _ := ctx.Value(ctxKeyAuthUser).(*AuthUser)
	return user
}
