package model

import "time"

// UserRole 全局角色（账号级，与项目内角色无关）
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// Avatar 用户头像，Key 为对象存储中的对象键
type Avatar struct {
	URL string `json:"url" bson:"url"`
	Key string `json:"-" bson:"key"`
}

// User 用户
//
// 敏感字段（密码哈希、会话令牌、临时令牌）一律 json:"-"，
// 序列化到 HTTP 响应时自动剥离。
// RefreshTokens 存储的是刷新令牌的 sha256 十六进制摘要，不存明文；
// 单用户并发会话上限见 MaxSessions。
type User struct {
	ID            string    `json:"id" bson:"_id"`
	Email         string    `json:"email" bson:"email"`
	Username      string    `json:"username" bson:"username"`
	PasswordHash  string    `json:"-" bson:"password_hash"`
	Role          UserRole  `json:"role" bson:"role"`
	EmailVerified bool      `json:"email_verified" bson:"email_verified"`
	Active        bool      `json:"active" bson:"active"`
	Avatar        *Avatar   `json:"avatar,omitempty" bson:"avatar,omitempty"`
	RefreshTokens []string  `json:"-" bson:"refresh_tokens"`

	PasswordResetToken        string     `json:"-" bson:"password_reset_token,omitempty"`
	PasswordResetTokenExpiry  *time.Time `json:"-" bson:"password_reset_token_expiry,omitempty"`
	EmailVerificationToken    string     `json:"-" bson:"email_verification_token,omitempty"`
	EmailVerificationTokenExpiry *time.Time `json:"-" bson:"email_verification_token_expiry,omitempty"`
	LastVerificationEmailAt   *time.Time `json:"-" bson:"last_verification_email_at,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// MaxSessions 单用户并发会话（刷新令牌）上限
const MaxSessions = 5

// ValidUserRole 是否为合法的全局角色
func ValidUserRole(r UserRole) bool {
	return r == UserRoleAdmin || r == UserRoleUser
}

// IsAdmin 是否为全局管理员
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
