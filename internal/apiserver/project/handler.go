// Package project 项目与成员管理 HTTP 处理器
package project

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"taskhub/internal/apiserver/auth"
	"taskhub/internal/shared/apierr"
	"taskhub/internal/shared/model"
	"taskhub/internal/shared/storage"
)

// Store 项目存储接口
type Store interface {
	CreateProject(ctx context.Context, project *model.Project) error
	GetProjectByID(ctx context.Context, id string) (*model.Project, error)
	UpdateProject(ctx context.Context, id, name, description string) error
	DeleteProject(ctx context.Context, id string) error
	ListProjectsByUser(ctx context.Context, userID string) ([]*model.ProjectWithRole, error)

	UpsertProjectMember(ctx context.Context, member *model.ProjectMember) error
	GetProjectMember(ctx context.Context, projectID, userID string) (*model.ProjectMember, error)
	ListProjectMembers(ctx context.Context, projectID string) ([]*model.ProjectMember, error)
	UpdateProjectMemberRole(ctx context.Context, projectID, userID string, role model.MemberRole) error
	DeleteProjectMember(ctx context.Context, projectID, userID string) error

	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// Handler 项目 HTTP 处理器
type Handler struct {
	store Store
}

// NewHandler 创建项目处理器
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册项目相关路由
//
// 读操作对任意项目成员开放，写操作要求项目管理角色。
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	anyMember := auth.RequireProjectRole(h.store,
		model.MemberRoleAdmin, model.MemberRoleProjectAdmin, model.MemberRoleMember)
	manager := auth.RequireProjectRole(h.store,
		model.MemberRoleAdmin, model.MemberRoleProjectAdmin)

	mux.HandleFunc("POST /api/v1/projects", h.Create)
	mux.HandleFunc("GET /api/v1/projects", h.List)
	mux.HandleFunc("GET /api/v1/projects/{projectId}", anyMember(h.Get))
	mux.HandleFunc("PUT /api/v1/projects/{projectId}", manager(h.Update))
	mux.HandleFunc("DELETE /api/v1/projects/{projectId}", manager(h.Delete))

	mux.HandleFunc("POST /api/v1/projects/{projectId}/members", manager(h.AddMember))
	mux.HandleFunc("GET /api/v1/projects/{projectId}/members", anyMember(h.ListMembers))
	mux.HandleFunc("PUT /api/v1/projects/{projectId}/members/{userId}", manager(h.UpdateMemberRole))
	mux.HandleFunc("DELETE /api/v1/projects/{projectId}/members/{userId}", manager(h.RemoveMember))
}

// ============================================================================
// 请求类型
// ============================================================================

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type addMemberRequest struct {
	Email string           `json:"email"`
	Role  model.MemberRole `json:"role"`
}

type memberRoleRequest struct {
	Role model.MemberRole `json:"role"`
}

// ============================================================================
// 项目
// ============================================================================

// Create 创建项目，创建者自动成为项目管理员
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "project name is required"))
		return
	}

	now := time.Now()
	project := &model.Project{
		ID:          generateID("prj"),
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "create project", err))
		return
	}

	member := &model.ProjectMember{
		ID:        generateID("pm"),
		ProjectID: project.ID,
		UserID:    user.ID,
		Role:      model.MemberRoleAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.UpsertProjectMember(r.Context(), member); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "add creator as member", err))
		return
	}

	log.Printf("[project] Created: %s (%s) by %s", project.Name, project.ID, user.ID)
	apierr.WriteData(w, http.StatusCreated, project, "project created")
}

// List 列出当前用户参与的项目
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	projects, err := h.store.ListProjectsByUser(r.Context(), user.ID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list projects", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, projects, "")
}

// Get 项目详情：项目 + 请求者角色 + 成员数
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	projectID := r.PathValue("projectId")

	project, err := h.store.GetProjectByID(r.Context(), projectID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load project", err))
		return
	}
	if project == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "project not found"))
		return
	}

	members, err := h.store.ListProjectMembers(r.Context(), projectID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list members", err))
		return
	}

	// 全局 admin 可能不在成员表里，角色按项目管理员对待
	role := model.MemberRoleAdmin
	for _, m := range members {
		if m.UserID == user.ID {
			role = m.Role
			break
		}
	}

	apierr.WriteData(w, http.StatusOK, &model.ProjectWithRole{
		Project: project,
		Role:    role,
		Members: len(members),
	}, "")
}

// Update 更新项目名称/描述
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "project name is required"))
		return
	}

	project, err := h.store.GetProjectByID(r.Context(), projectID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load project", err))
		return
	}
	if project == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "project not found"))
		return
	}

	if err := h.store.UpdateProject(r.Context(), projectID, req.Name, req.Description); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update project", err))
		return
	}

	project, err = h.store.GetProjectByID(r.Context(), projectID)
	if err != nil || project == nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "reload project", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, project, "project updated")
}

// Delete 删除项目，级联删除成员关系
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")

	if err := h.store.DeleteProject(r.Context(), projectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindNotFound, "project not found"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "delete project", err))
		return
	}

	log.Printf("[project] Deleted: %s", projectID)
	apierr.WriteData(w, http.StatusOK, nil, "project deleted")
}

// ============================================================================
// 成员
// ============================================================================

// AddMember 按邮箱把用户加入项目，已是成员时更新其角色
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	if req.Email == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "email is required"))
		return
	}
	if req.Role == "" {
		req.Role = model.MemberRoleMember
	}
	if !model.ValidMemberRole(req.Role) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid member role"))
		return
	}

	project, err := h.store.GetProjectByID(r.Context(), projectID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load project", err))
		return
	}
	if project == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "project not found"))
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "no user with that email"))
		return
	}

	now := time.Now()
	member := &model.ProjectMember{
		ID:        generateID("pm"),
		ProjectID: projectID,
		UserID:    user.ID,
		Role:      req.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.UpsertProjectMember(r.Context(), member); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "upsert member", err))
		return
	}

	log.Printf("[project] Member added: %s -> %s (%s)", user.ID, projectID, req.Role)
	apierr.WriteData(w, http.StatusCreated, &model.MemberWithUser{
		User:      user.Summary(),
		Role:      req.Role,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}, "member added")
}

// ListMembers 成员列表，带用户概要
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")

	members, err := h.store.ListProjectMembers(r.Context(), projectID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list members", err))
		return
	}

	result := []*model.MemberWithUser{}
	for _, m := range members {
		user, err := h.store.GetUserByID(r.Context(), m.UserID)
		if err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load member user", err))
			return
		}
		if user == nil {
			continue // 成员指向已删除的用户
		}
		result = append(result, &model.MemberWithUser{
			User:      user.Summary(),
			Role:      m.Role,
			ProjectID: m.ProjectID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}
	apierr.WriteData(w, http.StatusOK, result, "")
}

// UpdateMemberRole 修改成员角色
func (h *Handler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	userID := r.PathValue("userId")

	var req memberRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	if !model.ValidMemberRole(req.Role) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid member role"))
		return
	}

	if err := h.store.UpdateProjectMemberRole(r.Context(), projectID, userID, req.Role); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindNotFound, "member not found"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update member role", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, nil, "member role updated")
}

// RemoveMember 移除成员
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	userID := r.PathValue("userId")

	if err := h.store.DeleteProjectMember(r.Context(), projectID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindNotFound, "member not found"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "remove member", err))
		return
	}

	log.Printf("[project] Member removed: %s from %s", userID, projectID)
	apierr.WriteData(w, http.StatusOK, nil, "member removed")
}

// generateID 生成带前缀的唯一标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
