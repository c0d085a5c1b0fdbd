package auth

import (
	"context"
	"log"
	"net/http"
	"slices"
	"strings"

	"taskhub/internal/shared/apierr"
	"taskhub/internal/shared/model"
)

// 免认证路由（方法 + 精确路径）
var publicExact = map[string]bool{
	"POST /api/v1/auth/register":            true,
	"POST /api/v1/auth/login":               true,
	"POST /api/v1/auth/refresh-token":       true,
	"POST /api/v1/auth/verify-email":        true,
	"POST /api/v1/auth/resend-verification": true,
	"POST /api/v1/auth/forgot-password":     true,
	"POST /api/v1/auth/reset-password":      true,
}

// 免认证路由前缀
var publicPrefixes = []string{
	"/health",
	"/metrics",
	"/api/docs/",
}

func isPublicRoute(method, path string) bool {
	if publicExact[method+" "+path] {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// UserLoader 中间件回库校验用户用的最小接口
type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// MemberLoader 项目成员查询接口
type MemberLoader interface {
	GetProjectMember(ctx context.Context, projectID, userID string) (*model.ProjectMember, error)
}

// extractToken 从 accessToken Cookie 或 Authorization 头取访问令牌
func extractToken(r *http.Request) string {
	if c, err := r.Cookie(cookieAccessToken); err == nil && c.Value != "" {
		return c.Value
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Middleware 创建 JWT 认证中间件
//
// 非公开路由一律要求有效的访问令牌；令牌通过后还要回库确认
// 用户仍存在且未停用，被删号/停用的用户立即失效，不等令牌过期。
func Middleware(cfg Config, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "missing access token"))
				return
			}

			claims, err := ParseAccessToken(cfg, tokenString)
			if err != nil {
				if err == ErrTokenExpired {
					apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "access token expired"))
					return
				}
				log.Printf("[auth] token parse error: %v", err)
				apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "invalid access token"))
				return
			}

			user, err := users.GetUserByID(r.Context(), claims.Subject)
			if err != nil {
				apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
				return
			}
			if user == nil {
				apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "user no longer exists"))
				return
			}
			if !user.Active {
				apierr.WriteError(w, apierr.E(apierr.KindForbidden, "account is deactivated"))
				return
			}

			ctx := WithAuthUser(r.Context(), &AuthUser{
				ID:       user.ID,
				Email:    user.Email,
				Username: user.Username,
				Role:     string(user.Role),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole 全局角色门禁
func RequireRole(roles ...model.UserRole) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			user := GetAuthUser(r.Context())
			if user == nil {
				apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
				return
			}
			if !slices.Contains(roles, model.UserRole(user.Role)) {
				apierr.WriteError(w, apierr.E(apierr.KindForbidden, "insufficient role"))
				return
			}
			next(w, r)
		}
	}
}

// AdminOnly 全局管理员专属路由中间件
func AdminOnly(next http.HandlerFunc) http.HandlerFunc {
	return RequireRole(model.UserRoleAdmin)(next)
}

// RequireProjectRole 项目级角色门禁
//
// 路由必须带 {projectId} 路径参数。全局管理员直接放行；
// 其他人必须是项目成员且角色在 roles 之内。
func RequireProjectRole(members MemberLoader, roles ...model.MemberRole) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			user := GetAuthUser(r.Context())
			if user == nil {
				apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
				return
			}
			if user.Role == string(model.UserRoleAdmin) {
				next(w, r)
				return
			}

			projectID := r.PathValue("projectId")
			if projectID == "" {
				apierr.WriteError(w, apierr.E(apierr.KindValidation, "project id is required"))
				return
			}

			member, err := members.GetProjectMember(r.Context(), projectID, user.ID)
			if err != nil {
				apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load project member", err))
				return
			}
			if member == nil {
				apierr.WriteError(w, apierr.E(apierr.KindForbidden, "not a member of this project"))
				return
			}
			if !slices.Contains(roles, member.Role) {
				apierr.WriteError(w, apierr.E(apierr.KindForbidden, "insufficient project role"))
				return
			}
			next(w, r)
		}
	}
}
