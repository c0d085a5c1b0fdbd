package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"taskhub/internal/shared/apierr"
	"taskhub/internal/shared/mail"
	"taskhub/internal/shared/model"
	"taskhub/internal/shared/storage"
)

// 临时令牌有效期
const (
	verifyTokenTTL = 20 * time.Minute
	resetTokenTTL  = time.Hour
)

// 重发验证邮件冷却与忘记密码限流参数
const (
	resendCooldown      = 60 * time.Second
	forgotPasswordLimit = 5
	forgotPasswordWin   = 15 * time.Minute
)

const maxAvatarSize = 5 << 20 // 5 MiB

// UserStore 用户存储接口
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	SetUserRole(ctx context.Context, id string, role model.UserRole) error
	DeleteUser(ctx context.Context, id string) error
	UpdateUserProfile(ctx context.Context, id, username, email string) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	SetUserAvatar(ctx context.Context, id string, avatar *model.Avatar) error
	SetUserActive(ctx context.Context, id string, active bool) error

	SetEmailVerificationToken(ctx context.Context, id, tokenHash string, expiry, sentAt time.Time) error
	MarkEmailVerified(ctx context.Context, tokenHash string) error
	SetPasswordResetToken(ctx context.Context, id, tokenHash string, expiry time.Time) error
	ResetUserPassword(ctx context.Context, tokenHash, passwordHash string) error

	AddUserSession(ctx context.Context, id, tokenHash string) error
	RemoveUserSession(ctx context.Context, id, tokenHash string) error
	ClearUserSessions(ctx context.Context, id string) error
	RotateUserSession(ctx context.Context, id, oldHash, newHash string) error
}

// RateLimiter 固定窗口限流接口（Redis 实现）
type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string, limit int64, window time.Duration) (bool, error)
}

// ObjectStore 头像文件存储接口（MinIO 实现）
type ObjectStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Metrics 认证流程指标回调（server 包的 Prometheus 实现）
type Metrics interface {
	RecordLogin(outcome string)
	RecordTokenRefresh(outcome string)
	RecordMailDelivery(kind, outcome string)
	RecordRateLimitHit(scope string)
}

// nopMetrics 未接指标时的空实现
type nopMetrics struct{}

func (nopMetrics) RecordLogin(string)           {}
func (nopMetrics) RecordTokenRefresh(string)    {}
func (nopMetrics) RecordMailDelivery(_, _ string) {}
func (nopMetrics) RecordRateLimitHit(string)    {}

// Handler 认证 HTTP 处理器
type Handler struct {
	store   UserStore
	mailer  mail.Mailer
	limiter RateLimiter
	files   ObjectStore
	metrics Metrics
	cfg     Config
}

// NewHandler 创建认证处理器
func NewHandler(store UserStore, mailer mail.Mailer, limiter RateLimiter, files ObjectStore, cfg Config) *Handler {
	return &Handler{store: store, mailer: mailer, limiter: limiter, files: files, metrics: nopMetrics{}, cfg: cfg}
}

// SetMetrics 接入指标收集（server 装配时调用）
func (h *Handler) SetMetrics(m Metrics) {
	if m != nil {
		h.metrics = m
	}
}

// RegisterRoutes 注册认证相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/register", h.Register)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/logout", h.Logout)
	mux.HandleFunc("POST /api/v1/auth/logout-all", h.LogoutAll)
	mux.HandleFunc("POST /api/v1/auth/refresh-token", h.RefreshToken)
	mux.HandleFunc("POST /api/v1/auth/verify-email", h.VerifyEmail)
	mux.HandleFunc("POST /api/v1/auth/resend-verification", h.ResendVerification)
	mux.HandleFunc("POST /api/v1/auth/forgot-password", h.ForgotPassword)
	mux.HandleFunc("POST /api/v1/auth/reset-password", h.ResetPassword)
	mux.HandleFunc("POST /api/v1/auth/change-password", h.ChangePassword)
	mux.HandleFunc("GET /api/v1/auth/me", h.Me)
	mux.HandleFunc("PUT /api/v1/auth/me", h.UpdateMe)
	mux.HandleFunc("DELETE /api/v1/auth/me", h.DeleteMe)
	mux.HandleFunc("PUT /api/v1/auth/me/avatar", h.UploadAvatar)
	mux.HandleFunc("PUT /api/v1/auth/me/deactivate", h.Deactivate)

	// 管理后台：用户管理，仅全局 admin
	mux.HandleFunc("GET /api/v1/admin/users", AdminOnly(h.AdminListUsers))
	mux.HandleFunc("GET /api/v1/admin/users/{userId}", AdminOnly(h.AdminGetUser))
	mux.HandleFunc("PUT /api/v1/admin/users/{userId}/role", AdminOnly(h.AdminUpdateRole))
	mux.HandleFunc("DELETE /api/v1/admin/users/{userId}", AdminOnly(h.AdminDeleteUser))
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateMeRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginResponse struct {
	User        *model.User `json:"user"`
	AccessToken string      `json:"accessToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// ============================================================================
// 注册与邮箱验证
// ============================================================================

// Register 用户注册
//
// 新用户未验证但可登录。验证邮件发送失败时回滚刚创建的用户，
// 让客户端可以安全重试整个注册。
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email, username and password are required"))
		return
	}
	if !isValidEmail(req.Email) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid email format"))
		return
	}
	if len(req.Username) < 3 {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "username must be at least 3 characters"))
		return
	}
	if len(req.Password) < 8 {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "password must be at least 8 characters"))
		return
	}

	// 先查重给出明确的冲突消息，唯一索引兜底并发竞争
	if existing, err := h.store.GetUserByEmail(r.Context(), req.Email); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "check email", err))
		return
	} else if existing != nil {
		apierr.WriteError(w, apierr.E(apierr.KindConflict, "email already registered"))
		return
	}
	if existing, err := h.store.GetUserByUsername(r.Context(), req.Username); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "check username", err))
		return
	} else if existing != nil {
		apierr.WriteError(w, apierr.E(apierr.KindConflict, "username already taken"))
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "hash password", err))
		return
	}

	now := time.Now()
	user := &model.User{
		ID:            generateID("usr"),
		Email:         req.Email,
		Username:      req.Username,
		PasswordHash:  hash,
		Role:          model.UserRoleUser,
		EmailVerified: false,
		Active:        true,
		RefreshTokens: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			apierr.WriteError(w, apierr.E(apierr.KindConflict, "email or username already in use"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "create user", err))
		return
	}

	if err := h.sendVerificationEmail(r.Context(), user); err != nil {
		// 补偿：删掉刚创建的用户，让注册整体可重试
		if delErr := h.store.DeleteUser(r.Context(), user.ID); delErr != nil {
			log.Printf("[auth.register] compensating delete failed for %s: %v", user.ID, delErr)
		}
		apierr.WriteError(w, err)
		return
	}

	log.Printf("[auth] User registered: %s (%s)", user.Email, user.ID)
	apierr.WriteData(w, http.StatusCreated, user, "registered, verification email sent")
}

// sendVerificationEmail 生成新验证令牌、入库并发送邮件
//
// 返回值已经是标好类别的 apierr：令牌入库失败是我们自己的存储问题
// （Internal），发信失败才是外部依赖问题（Dependency）。
func (h *Handler) sendVerificationEmail(ctx context.Context, user *model.User) error {
	raw, tokenHash, expiry, err := NewTempToken(verifyTokenTTL)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "generate verification token", err)
	}
	if err := h.store.SetEmailVerificationToken(ctx, user.ID, tokenHash, expiry, time.Now()); err != nil {
		return apierr.Wrap(apierr.KindInternal, "store verification token", err)
	}

	verifyURL := fmt.Sprintf("%s/verify-email?email=%s&token=%s",
		h.cfg.FrontendURL, url.QueryEscape(user.Email), raw)
	if err := h.mailer.Send(ctx, mail.VerificationMessage(user.Email, user.Username, verifyURL)); err != nil {
		h.metrics.RecordMailDelivery("verification", "failure")
		return apierr.Wrap(apierr.KindDependency, "failed to send verification email", err)
	}
	h.metrics.RecordMailDelivery("verification", "success")
	return nil
}

// VerifyEmail 消费验证令牌
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.Email == "" || req.Token == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email and token are required"))
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
		return
	}
	if user.EmailVerified {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email already verified"))
		return
	}
	if !ConsumeTempToken(req.Token, user.EmailVerificationToken, user.EmailVerificationTokenExpiry) {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "verification token is invalid or expired"))
		return
	}

	// 条件更新保证并发下也只消费一次
	if err := h.store.MarkEmailVerified(r.Context(), HashToken(req.Token)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "verification token is invalid or expired"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "mark verified", err))
		return
	}

	log.Printf("[auth] Email verified: %s", user.Email)
	apierr.WriteData(w, http.StatusOK, nil, "email verified")
}

// ResendVerification 重发验证邮件，60 秒冷却
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.Email == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email is required"))
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
		return
	}
	if user.EmailVerified {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email already verified"))
		return
	}
	if user.LastVerificationEmailAt != nil && time.Since(*user.LastVerificationEmailAt) < resendCooldown {
		h.metrics.RecordRateLimitHit("resend-verification")
		apierr.WriteError(w, apierr.E(apierr.KindTooManyRequests, "verification email was sent recently, try again later"))
		return
	}

	if err := h.sendVerificationEmail(r.Context(), user); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteData(w, http.StatusOK, nil, "verification email sent")
}

// ============================================================================
// 登录 / 登出 / 刷新
// ============================================================================

// Login 用户登录，下发访问+刷新令牌并登记会话
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email and password are required"))
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	// 用户不存在与密码错误同一个消息，不泄露账号是否注册
	if user == nil || !CheckPassword(req.Password, user.PasswordHash) {
		h.metrics.RecordLogin("failure")
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "invalid email or password"))
		return
	}
	if !user.Active {
		h.metrics.RecordLogin("deactivated")
		apierr.WriteError(w, apierr.E(apierr.KindForbidden, "account is deactivated"))
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, user.ID, user.Email, user.Username, string(user.Role))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "generate access token", err))
		return
	}
	refreshToken, err := GenerateRefreshToken(h.cfg, user.ID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "generate refresh token", err))
		return
	}

	if err := h.store.AddUserSession(r.Context(), user.ID, HashToken(refreshToken)); err != nil {
		if errors.Is(err, storage.ErrTooManySessions) {
			apierr.WriteError(w, apierr.E(apierr.KindConflict, "too many active sessions, log out from another device first"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "record session", err))
		return
	}

	h.metrics.RecordLogin("success")
	setAuthCookies(w, h.cfg, accessToken, refreshToken)
	log.Printf("[auth] User logged in: %s", user.Email)
	apierr.WriteData(w, http.StatusOK, loginResponse{User: user, AccessToken: accessToken}, "logged in")
}

// Logout 注销当前会话
//
// 对令牌幂等：重复注销同一个刷新令牌不报错，Cookie 总是被清除。
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := GetAuthUser(r.Context())
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	if token := h.refreshTokenFrom(r); token != "" {
		if err := h.store.RemoveUserSession(r.Context(), user.ID, HashToken(token)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "remove session", err))
			return
		}
	}

	clearAuthCookies(w, h.cfg)
	apierr.WriteData(w, http.StatusOK, nil, "logged out")
}

// LogoutAll 注销该用户的全部会话
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user := GetAuthUser(r.Context())
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	if err := h.store.ClearUserSessions(r.Context(), user.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "clear sessions", err))
		return
	}

	clearAuthCookies(w, h.cfg)
	apierr.WriteData(w, http.StatusOK, nil, "logged out from all devices")
}

// RefreshToken 刷新令牌轮换
//
// 旧刷新令牌与新令牌在一次条件更新里原子替换。已被消费的令牌
// 再次出现视为重放，直接拒绝并清 Cookie。
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	tokenString := h.refreshTokenFrom(r)
	if tokenString == "" {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "missing refresh token"))
		return
	}

	claims, err := ParseRefreshToken(h.cfg, tokenString)
	if err != nil {
		h.metrics.RecordTokenRefresh("invalid")
		clearAuthCookies(w, h.cfg)
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "refresh token is invalid or expired"))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), claims.Subject)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		clearAuthCookies(w, h.cfg)
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "user no longer exists"))
		return
	}
	if !user.Active {
		apierr.WriteError(w, apierr.E(apierr.KindForbidden, "account is deactivated"))
		return
	}

	newRefresh, err := GenerateRefreshToken(h.cfg, user.ID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "generate refresh token", err))
		return
	}
	if err := h.store.RotateUserSession(r.Context(), user.ID, HashToken(tokenString), HashToken(newRefresh)); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			h.metrics.RecordTokenRefresh("replay")
			log.Printf("[auth] refresh token replay detected for user %s", user.ID)
			clearAuthCookies(w, h.cfg)
			apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "refresh token has already been used"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "rotate session", err))
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, user.ID, user.Email, user.Username, string(user.Role))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "generate access token", err))
		return
	}

	h.metrics.RecordTokenRefresh("success")
	setAuthCookies(w, h.cfg, accessToken, newRefresh)
	apierr.WriteData(w, http.StatusOK, refreshResponse{AccessToken: accessToken}, "token refreshed")
}

// refreshTokenFrom 从 Cookie 或请求体取刷新令牌
func (h *Handler) refreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(cookieRefreshToken); err == nil && c.Value != "" {
		return c.Value
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

// ============================================================================
// 密码找回 / 修改
// ============================================================================

// ForgotPassword 发起密码重置，按来源 IP 限流
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil {
		ok, err := h.limiter.Allow(r.Context(), "forgot-password", clientIP(r), forgotPasswordLimit, forgotPasswordWin)
		if err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.KindDependency, "rate limiter unavailable", err))
			return
		}
		if !ok {
			h.metrics.RecordRateLimitHit("forgot-password")
			apierr.WriteError(w, apierr.E(apierr.KindTooManyRequests, "too many password reset requests, try again later"))
			return
		}
	}

	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.Email == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email is required"))
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
		return
	}

	raw, tokenHash, expiry, err := NewTempToken(resetTokenTTL)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "generate reset token", err))
		return
	}
	if err := h.store.SetPasswordResetToken(r.Context(), user.ID, tokenHash, expiry); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "store reset token", err))
		return
	}

	resetURL := fmt.Sprintf("%s/reset-password?email=%s&token=%s",
		h.cfg.FrontendURL, url.QueryEscape(user.Email), raw)
	if err := h.mailer.Send(r.Context(), mail.PasswordResetMessage(user.Email, user.Username, resetURL)); err != nil {
		h.metrics.RecordMailDelivery("password_reset", "failure")
		apierr.WriteError(w, apierr.Wrap(apierr.KindDependency, "failed to send reset email", err))
		return
	}
	h.metrics.RecordMailDelivery("password_reset", "success")

	apierr.WriteData(w, http.StatusOK, nil, "password reset email sent")
}

// ResetPassword 消费重置令牌设置新密码，同时作废全部会话
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.Email == "" || req.Token == "" || req.Password == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email, token and password are required"))
		return
	}
	if len(req.Password) < 8 {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "password must be at least 8 characters"))
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
		return
	}
	if !ConsumeTempToken(req.Token, user.PasswordResetToken, user.PasswordResetTokenExpiry) {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "reset token is invalid or expired"))
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "hash password", err))
		return
	}
	if err := h.store.ResetUserPassword(r.Context(), HashToken(req.Token), hash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "reset token is invalid or expired"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "reset password", err))
		return
	}

	log.Printf("[auth] Password reset: %s", user.Email)
	apierr.WriteData(w, http.StatusOK, nil, "password reset, please log in again")
}

// ChangePassword 修改密码，成功后全部会话作废
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "oldPassword and newPassword are required"))
		return
	}
	if len(req.NewPassword) < 8 {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "new password must be at least 8 characters"))
		return
	}
	if req.NewPassword == req.OldPassword {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "new password must differ from the old one"))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), authUser.ID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
		return
	}
	if !CheckPassword(req.OldPassword, user.PasswordHash) {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "incorrect old password"))
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "hash password", err))
		return
	}
	// 密码哈希替换与会话清空在同一条更新里完成
	if err := h.store.UpdateUserPassword(r.Context(), user.ID, hash); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update password", err))
		return
	}

	clearAuthCookies(w, h.cfg)
	log.Printf("[auth] Password changed: %s", user.Email)
	apierr.WriteData(w, http.StatusOK, nil, "password changed, please log in again")
}

// ============================================================================
// 当前用户
// ============================================================================

// Me 获取当前用户信息
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), authUser.ID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
		return
	}

	apierr.WriteData(w, http.StatusOK, user, "")
}

// UpdateMe 更新用户名/邮箱，空字段保持不变
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	var req updateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" && req.Email == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "nothing to update"))
		return
	}
	if req.Username != "" && len(req.Username) < 3 {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "username must be at least 3 characters"))
		return
	}
	if req.Email != "" && !isValidEmail(req.Email) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid email format"))
		return
	}

	if err := h.store.UpdateUserProfile(r.Context(), authUser.ID, req.Username, req.Email); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			apierr.WriteError(w, apierr.E(apierr.KindConflict, "email or username already in use"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update profile", err))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), authUser.ID)
	if err != nil || user == nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "reload user", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, user, "profile updated")
}

// UploadAvatar 上传头像到对象存储并更新用户档案
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "avatar file is required"))
		return
	}
	defer file.Close()
	if header.Size > maxAvatarSize {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "avatar must be at most 5 MiB"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "avatar must be an image"))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), authUser.ID)
	if err != nil || user == nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}

	key := fmt.Sprintf("avatars/%s-%s%s", user.ID, randomSuffix(), path.Ext(header.Filename))
	if err := h.files.Upload(r.Context(), key, file, header.Size, contentType); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindDependency, "failed to store avatar", err))
		return
	}

	avatar := &model.Avatar{URL: h.files.PublicURL(key), Key: key}
	if err := h.store.SetUserAvatar(r.Context(), user.ID, avatar); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "save avatar", err))
		return
	}

	// 旧头像对象尽力清理，失败只记日志
	if user.Avatar != nil && user.Avatar.Key != "" && user.Avatar.Key != key {
		if err := h.files.Remove(r.Context(), user.Avatar.Key); err != nil {
			log.Printf("[auth.avatar] remove old object %s: %v", user.Avatar.Key, err)
		}
	}

	apierr.WriteData(w, http.StatusOK, avatar, "avatar updated")
}

// Deactivate 停用账号并作废全部会话
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	if err := h.store.SetUserActive(r.Context(), authUser.ID, false); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "deactivate user", err))
		return
	}
	if err := h.store.ClearUserSessions(r.Context(), authUser.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "clear sessions", err))
		return
	}

	clearAuthCookies(w, h.cfg)
	log.Printf("[auth] User deactivated: %s", authUser.ID)
	apierr.WriteData(w, http.StatusOK, nil, "account deactivated")
}

// DeleteMe 删除账号
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), authUser.ID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
		return
	}

	if user.Avatar != nil && user.Avatar.Key != "" {
		if err := h.files.Remove(r.Context(), user.Avatar.Key); err != nil {
			log.Printf("[auth.delete] remove avatar %s: %v", user.Avatar.Key, err)
		}
	}
	if err := h.store.DeleteUser(r.Context(), user.ID); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "delete user", err))
		return
	}

	clearAuthCookies(w, h.cfg)
	log.Printf("[auth] User deleted: %s (%s)", user.Email, user.ID)
	apierr.WriteData(w, http.StatusOK, nil, "account deleted")
}

// ============================================================================
// 工具函数
// ============================================================================

// decodeJSON 解析请求体，失败返回 Validation 错误
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.E(apierr.KindValidation, "invalid request body")
	}
	return nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// clientIP 限流主体：优先 X-Forwarded-For 首项，否则 RemoteAddr
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// generateID 生成带前缀的唯一标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

func randomSuffix() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}
