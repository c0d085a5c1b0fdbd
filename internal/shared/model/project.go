package model

import "time"

// MemberRole 项目内角色
//
// 注意与全局 UserRole 区分：MemberRoleAdmin 是"该项目的管理员"，
// 不等于全局 admin。全局 admin 对项目级鉴权的豁免策略见 auth 包。
type MemberRole string

const (
	MemberRoleAdmin        MemberRole = "admin"
	MemberRoleProjectAdmin MemberRole = "project_admin"
	MemberRoleMember       MemberRole = "member"
)

// ValidMemberRole 校验项目角色取值
func ValidMemberRole(r MemberRole) bool {
	switch r {
	case MemberRoleAdmin, MemberRoleProjectAdmin, MemberRoleMember:
		return true
	}
	return false
}

// Project 项目
type Project struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	CreatedBy   string    `json:"created_by" bson:"created_by"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// ProjectMember 项目成员关系，(project_id, user_id) 唯一
type ProjectMember struct {
	ID        string     `json:"id" bson:"_id"`
	ProjectID string     `json:"project_id" bson:"project_id"`
	UserID    string     `json:"user_id" bson:"user_id"`
	Role      MemberRole `json:"role" bson:"role"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

// ProjectWithRole 项目列表项：项目 + 当前用户在其中的角色 + 成员数
type ProjectWithRole struct {
	Project *Project   `json:"project"`
	Role    MemberRole `json:"role"`
	Members int        `json:"members"`
}

// MemberWithUser 成员列表项：成员关系 + 用户概要
type MemberWithUser struct {
	User      *UserSummary `json:"user"`
	Role      MemberRole   `json:"role"`
	ProjectID string       `json:"project_id"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// UserSummary 嵌入其他资源时暴露的用户概要
type UserSummary struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Avatar   *Avatar `json:"avatar,omitempty"`
}

// Summary 生成用户概要
func (u *User) Summary() *UserSummary {
	return &UserSummary{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: u.Avatar}
}
