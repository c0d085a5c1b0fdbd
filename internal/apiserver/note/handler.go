// Package note 项目笔记与评论 HTTP 处理器
package note

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

// Store 笔记存储接口
type Store interface {
	CreateNote(ctx context.Context, note *model.ProjectNote) error
	GetNoteByID(ctx context.Context, id string) (*model.ProjectNote, error)
	ListNotesByProject(ctx context.Context, projectID string) ([]*model.ProjectNote, error)
	UpdateNote(ctx context.Context, id, content string, pinned bool) error
	DeleteNote(ctx context.Context, id string) error

	CreateComment(ctx context.Context, comment *model.NoteComment) error
	GetCommentByID(ctx context.Context, id string) (*model.NoteComment, error)
	ListCommentsByNote(ctx context.Context, noteID string) ([]*model.NoteComment, error)
	UpdateComment(ctx context.Context, id, content string) error
	DeleteComment(ctx context.Context, id string) error

	GetProjectMember(ctx context.Context, projectID, userID string) (*model.ProjectMember, error)
}

// Handler 笔记 HTTP 处理器
type Handler struct {
	store Store
}

// NewHandler 创建笔记处理器
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册笔记相关路由
//
// 笔记写操作限项目管理角色；评论任何成员都能发，
// 修改/删除限作者本人或项目管理角色（处理器内判定）。
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	anyMember := auth.RequireProjectRole(h.store,
		model.MemberRoleAdmin, model.MemberRoleProjectAdmin, model.MemberRoleMember)
	manager := auth.RequireProjectRole(h.store,
		model.MemberRoleAdmin, model.MemberRoleProjectAdmin)

	mux.HandleFunc("GET /api/v1/projects/{projectId}/notes", anyMember(h.List))
	mux.HandleFunc("POST /api/v1/projects/{projectId}/notes", manager(h.Create))
	mux.HandleFunc("GET /api/v1/projects/{projectId}/notes/{noteId}", anyMember(h.Get))
	mux.HandleFunc("PUT /api/v1/projects/{projectId}/notes/{noteId}", manager(h.Update))
	mux.HandleFunc("DELETE /api/v1/projects/{projectId}/notes/{noteId}", manager(h.Delete))

	mux.HandleFunc("GET /api/v1/projects/{projectId}/notes/{noteId}/comments", anyMember(h.ListComments))
	mux.HandleFunc("POST /api/v1/projects/{projectId}/notes/{noteId}/comments", anyMember(h.CreateComment))
	mux.HandleFunc("PUT /api/v1/projects/{projectId}/notes/{noteId}/comments/{commentId}", anyMember(h.UpdateComment))
	mux.HandleFunc("DELETE /api/v1/projects/{projectId}/notes/{noteId}/comments/{commentId}", anyMember(h.DeleteComment))
}

// ============================================================================
// 请求类型
// ============================================================================

type noteRequest struct {
	Content string `json:"content"`
	Pinned  bool   `json:"pinned"`
}

type commentRequest struct {
	Content         string `json:"content"`
	ParentCommentID string `json:"parentCommentId"`
}

// ============================================================================
// 笔记
// ============================================================================

// List 项目笔记列表，置顶优先
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.store.ListNotesByProject(r.Context(), r.PathValue("projectId"))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list notes", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, notes, "")
}

// Create 创建笔记
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	projectID := r.PathValue("projectId")

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "note content is required"))
		return
	}

	now := time.Now()
	note := &model.ProjectNote{
		ID:          generateID("note"),
		ProjectID:   projectID,
		CreatedBy:   user.ID,
		Content:     req.Content,
		Pinned:      req.Pinned,
		Attachments: []model.Attachment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateNote(r.Context(), note); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "create note", err))
		return
	}

	log.Printf("[note] Created: %s in %s by %s", note.ID, projectID, user.ID)
	apierr.WriteData(w, http.StatusCreated, note, "note created")
}

// Get 笔记详情
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	note, err := h.noteInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteData(w, http.StatusOK, note, "")
}

// Update 更新笔记内容与置顶标志
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	note, err := h.noteInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "note content is required"))
		return
	}

	if err := h.store.UpdateNote(r.Context(), note.ID, req.Content, req.Pinned); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update note", err))
		return
	}

	note, err2 := h.store.GetNoteByID(r.Context(), note.ID)
	if err2 != nil || note == nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "reload note", err2))
		return
	}
	apierr.WriteData(w, http.StatusOK, note, "note updated")
}

// Delete 删除笔记，级联删除评论
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	note, err := h.noteInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	if err := h.store.DeleteNote(r.Context(), note.ID); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "delete note", err))
		return
	}

	log.Printf("[note] Deleted: %s", note.ID)
	apierr.WriteData(w, http.StatusOK, nil, "note deleted")
}

// ============================================================================
// 评论
// ============================================================================

// ListComments 评论列表，时间正序
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	note, err := h.noteInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	comments, err2 := h.store.ListCommentsByNote(r.Context(), note.ID)
	if err2 != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list comments", err2))
		return
	}
	apierr.WriteData(w, http.StatusOK, comments, "")
}

// CreateComment 发表评论，parentCommentId 非空时为回复
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	note, err := h.noteInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "comment content is required"))
		return
	}

	// 回复目标必须是同一条笔记下的评论
	if req.ParentCommentID != "" {
		parent, err := h.store.GetCommentByID(r.Context(), req.ParentCommentID)
		if err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load parent comment", err))
			return
		}
		if parent == nil || parent.NoteID != note.ID {
			apierr.WriteError(w, apierr.E(apierr.KindValidation, "parent comment not found on this note"))
			return
		}
	}

	now := time.Now()
	comment := &model.NoteComment{
		ID:              generateID("cmt"),
		NoteID:          note.ID,
		Content:         req.Content,
		CreatedBy:       user.ID,
		ParentCommentID: req.ParentCommentID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.store.CreateComment(r.Context(), comment); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "create comment", err))
		return
	}
	apierr.WriteData(w, http.StatusCreated, comment, "comment created")
}

// UpdateComment 修改评论，仅限作者或项目管理角色
func (h *Handler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	comment, err := h.commentOnNote(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := h.requireAuthorOrManager(r, comment); err != nil {
		apierr.WriteError(w, err)
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "comment content is required"))
		return
	}

	if err := h.store.UpdateComment(r.Context(), comment.ID, req.Content); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update comment", err))
		return
	}

	comment, err2 := h.store.GetCommentByID(r.Context(), comment.ID)
	if err2 != nil || comment == nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "reload comment", err2))
		return
	}
	apierr.WriteData(w, http.StatusOK, comment, "comment updated")
}

// DeleteComment 删除评论，仅限作者或项目管理角色
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	comment, err := h.commentOnNote(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := h.requireAuthorOrManager(r, comment); err != nil {
		apierr.WriteError(w, err)
		return
	}

	if err := h.store.DeleteComment(r.Context(), comment.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindNotFound, "comment not found"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "delete comment", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, nil, "comment deleted")
}

// ============================================================================
// 工具函数
// ============================================================================

// noteInProject 取路径里的笔记并校验归属项目
func (h *Handler) noteInProject(r *http.Request) (*model.ProjectNote, error) {
	note, err := h.store.GetNoteByID(r.Context(), r.PathValue("noteId"))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "load note", err)
	}
	if note == nil || note.ProjectID != r.PathValue("projectId") {
		return nil, apierr.E(apierr.KindNotFound, "note not found")
	}
	return note, nil
}

// commentOnNote 取路径里的评论并校验归属笔记
func (h *Handler) commentOnNote(r *http.Request) (*model.NoteComment, error) {
	note, err := h.noteInProject(r)
	if err != nil {
		return nil, err
	}
	comment, err2 := h.store.GetCommentByID(r.Context(), r.PathValue("commentId"))
	if err2 != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "load comment", err2)
	}
	if comment == nil || comment.NoteID != note.ID {
		return nil, apierr.E(apierr.KindNotFound, "comment not found")
	}
	return comment, nil
}

// requireAuthorOrManager 评论写权限：作者本人、项目管理角色或全局 admin
func (h *Handler) requireAuthorOrManager(r *http.Request, comment *model.NoteComment) error {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		return apierr.E(apierr.KindUnauthorized, "not authenticated")
	}
	if comment.CreatedBy == user.ID || user.Role == string(model.UserRoleAdmin) {
		return nil
	}

	member, err := h.store.GetProjectMember(r.Context(), r.PathValue("projectId"), user.ID)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "load project member", err)
	}
	if member != nil && (member.Role == model.MemberRoleAdmin || member.Role == model.MemberRoleProjectAdmin) {
		return nil
	}
	return apierr.E(apierr.KindForbidden, "only the author or a project admin can modify this comment")
}

// generateID 生成带前缀的唯一标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
