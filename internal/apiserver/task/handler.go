// Package task 任务与子任务 HTTP 处理器
package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"taskhub/internal/apiserver/auth"
	"taskhub/internal/shared/apierr"
	"taskhub/internal/shared/model"
	"taskhub/internal/shared/storage"
)

// 附件上传限制
const (
	maxAttachments    = 10
	maxAttachmentSize = 20 << 20 // 单文件 20 MiB
)

// Store 任务存储接口
type Store interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]*model.Task, error)
	UpdateTask(ctx context.Context, id string, title, description string, assignedTo string, status model.TaskStatus) error
	DeleteTask(ctx context.Context, id string) error
	AddTaskAttachments(ctx context.Context, id string, attachments []model.Attachment) error
	ListTasksByAssignee(ctx context.Context, userID string) ([]*model.Task, error)

	CreateSubtask(ctx context.Context, subtask *model.Subtask) error
	GetSubtaskByID(ctx context.Context, id string) (*model.Subtask, error)
	ListSubtasksByTask(ctx context.Context, taskID string) ([]*model.Subtask, error)
	UpdateSubtask(ctx context.Context, id, title string, status model.TaskStatus) error
	DeleteSubtask(ctx context.Context, id string) error

	GetProjectMember(ctx context.Context, projectID, userID string) (*model.ProjectMember, error)
}

// ObjectStore 附件文件存储接口（MinIO 实现）
type ObjectStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Handler 任务 HTTP 处理器
type Handler struct {
	store Store
	files ObjectStore
}

// NewHandler 创建任务处理器
func NewHandler(store Store, files ObjectStore) *Handler {
	return &Handler{store: store, files: files}
}

// RegisterRoutes 注册任务相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	anyMember := auth.RequireProjectRole(h.store,
		model.MemberRoleAdmin, model.MemberRoleProjectAdmin, model.MemberRoleMember)
	manager := auth.RequireProjectRole(h.store,
		model.MemberRoleAdmin, model.MemberRoleProjectAdmin)

	mux.HandleFunc("GET /api/v1/projects/{projectId}/tasks", anyMember(h.List))
	mux.HandleFunc("POST /api/v1/projects/{projectId}/tasks", manager(h.Create))
	mux.HandleFunc("GET /api/v1/projects/{projectId}/tasks/{taskId}", anyMember(h.Get))
	mux.HandleFunc("PUT /api/v1/projects/{projectId}/tasks/{taskId}", manager(h.Update))
	mux.HandleFunc("DELETE /api/v1/projects/{projectId}/tasks/{taskId}", manager(h.Delete))
	mux.HandleFunc("POST /api/v1/projects/{projectId}/tasks/{taskId}/attachments", anyMember(h.AddAttachments))

	mux.HandleFunc("POST /api/v1/projects/{projectId}/tasks/{taskId}/subtasks", anyMember(h.CreateSubtask))
	mux.HandleFunc("PUT /api/v1/projects/{projectId}/tasks/{taskId}/subtasks/{subtaskId}", anyMember(h.UpdateSubtask))
	mux.HandleFunc("DELETE /api/v1/projects/{projectId}/tasks/{taskId}/subtasks/{subtaskId}", manager(h.DeleteSubtask))

	// 跨项目视图：指派给我的任务
	mux.HandleFunc("GET /api/v1/tasks/assigned", h.ListAssigned)
}

// ============================================================================
// 请求类型
// ============================================================================

type taskRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	AssignedTo  string           `json:"assignedTo"`
	Status      model.TaskStatus `json:"status"`
}

type subtaskRequest struct {
	Title  string           `json:"title"`
	Status model.TaskStatus `json:"status"`
}

// ============================================================================
// 任务
// ============================================================================

// List 项目内任务列表，按创建时间倒序
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasksByProject(r.Context(), r.PathValue("projectId"))
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list tasks", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, tasks, "")
}

// Create 创建任务
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	projectID := r.PathValue("projectId")

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "task title is required"))
		return
	}
	if req.Status == "" {
		req.Status = model.TaskStatusTodo
	}
	if !model.ValidTaskStatus(req.Status) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid task status"))
		return
	}
	// 只能指派给项目成员
	if req.AssignedTo != "" {
		member, err := h.store.GetProjectMember(r.Context(), projectID, req.AssignedTo)
		if err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "check assignee", err))
			return
		}
		if member == nil {
			apierr.WriteError(w, apierr.E(apierr.KindValidation, "assignee is not a project member"))
			return
		}
	}

	now := time.Now()
	task := &model.Task{
		ID:          generateID("task"),
		ProjectID:   projectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		AssignedTo:  req.AssignedTo,
		AssignedBy:  user.ID,
		Attachments: []model.Attachment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateTask(r.Context(), task); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "create task", err))
		return
	}

	log.Printf("[task] Created: %s in %s by %s", task.ID, projectID, user.ID)
	apierr.WriteData(w, http.StatusCreated, task, "task created")
}

// Get 任务详情，带子任务列表
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.taskInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	subtasks, err2 := h.store.ListSubtasksByTask(r.Context(), task.ID)
	if err2 != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list subtasks", err2))
		return
	}
	apierr.WriteData(w, http.StatusOK, &model.TaskWithSubtasks{Task: task, Subtasks: subtasks}, "")
}

// Update 更新任务
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	task, err := h.taskInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "task title is required"))
		return
	}
	if req.Status == "" {
		req.Status = task.Status
	}
	if !model.ValidTaskStatus(req.Status) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid task status"))
		return
	}
	if req.AssignedTo != "" && req.AssignedTo != task.AssignedTo {
		member, err := h.store.GetProjectMember(r.Context(), task.ProjectID, req.AssignedTo)
		if err != nil {
			apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "check assignee", err))
			return
		}
		if member == nil {
			apierr.WriteError(w, apierr.E(apierr.KindValidation, "assignee is not a project member"))
			return
		}
	}

	if err := h.store.UpdateTask(r.Context(), task.ID, req.Title, req.Description, req.AssignedTo, req.Status); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update task", err))
		return
	}

	task, err2 := h.store.GetTaskByID(r.Context(), task.ID)
	if err2 != nil || task == nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "reload task", err2))
		return
	}
	apierr.WriteData(w, http.StatusOK, task, "task updated")
}

// Delete 删除任务，级联删除子任务，附件对象尽力清理
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	task, err := h.taskInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	if err := h.store.DeleteTask(r.Context(), task.ID); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "delete task", err))
		return
	}
	for _, a := range task.Attachments {
		if a.Key == "" {
			continue
		}
		if err := h.files.Remove(r.Context(), a.Key); err != nil {
			log.Printf("[task.delete] remove attachment %s: %v", a.Key, err)
		}
	}

	log.Printf("[task] Deleted: %s", task.ID)
	apierr.WriteData(w, http.StatusOK, nil, "task deleted")
}

// AddAttachments 上传附件（multipart，最多 10 个文件）
func (h *Handler) AddAttachments(w http.ResponseWriter, r *http.Request) {
	task, err := h.taskInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxAttachments * maxAttachmentSize); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid multipart form"))
		return
	}
	files := r.MultipartForm.File["attachments"]
	if len(files) == 0 {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "at least one attachment is required"))
		return
	}
	if len(files) > maxAttachments {
		apierr.WriteError(w, apierr.E(apierr.KindValidation,
			fmt.Sprintf("at most %d attachments per request", maxAttachments)))
		return
	}

	attachments := make([]model.Attachment, 0, len(files))
	uploaded := []string{}
	for _, fh := range files {
		if fh.Size > maxAttachmentSize {
			h.cleanupUploads(r.Context(), uploaded)
			apierr.WriteError(w, apierr.E(apierr.KindValidation, "attachment exceeds 20 MiB"))
			return
		}
		f, err := fh.Open()
		if err != nil {
			h.cleanupUploads(r.Context(), uploaded)
			apierr.WriteError(w, apierr.E(apierr.KindValidation, "unreadable attachment"))
			return
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		key := fmt.Sprintf("attachments/%s/%s%s", task.ID, randomSuffix(), path.Ext(fh.Filename))
		uploadErr := h.files.Upload(r.Context(), key, f, fh.Size, contentType)
		f.Close()
		if uploadErr != nil {
			h.cleanupUploads(r.Context(), uploaded)
			apierr.WriteError(w, apierr.Wrap(apierr.KindDependency, "failed to store attachment", uploadErr))
			return
		}
		uploaded = append(uploaded, key)
		attachments = append(attachments, model.Attachment{
			URL:      h.files.PublicURL(key),
			Key:      key,
			MimeType: contentType,
			Size:     fh.Size,
		})
	}

	if err := h.store.AddTaskAttachments(r.Context(), task.ID, attachments); err != nil {
		h.cleanupUploads(r.Context(), uploaded)
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindNotFound, "task not found"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "save attachments", err))
		return
	}

	apierr.WriteData(w, http.StatusOK, attachments, "attachments added")
}

// cleanupUploads 请求中途失败时回收已上传的对象
func (h *Handler) cleanupUploads(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := h.files.Remove(ctx, key); err != nil {
			log.Printf("[task.attachments] cleanup %s: %v", key, err)
		}
	}
}

// ListAssigned 指派给当前用户的任务（跨项目）
func (h *Handler) ListAssigned(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}

	tasks, err := h.store.ListTasksByAssignee(r.Context(), user.ID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list assigned tasks", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, tasks, "")
}

// ============================================================================
// 子任务
// ============================================================================

// CreateSubtask 创建子任务
func (h *Handler) CreateSubtask(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	task, err := h.taskInProject(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	var req subtaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "subtask title is required"))
		return
	}
	if req.Status == "" {
		req.Status = model.TaskStatusTodo
	}
	if !model.ValidTaskStatus(req.Status) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid subtask status"))
		return
	}

	now := time.Now()
	subtask := &model.Subtask{
		ID:        generateID("sub"),
		TaskID:    task.ID,
		Title:     req.Title,
		Status:    req.Status,
		CreatedBy: user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateSubtask(r.Context(), subtask); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "create subtask", err))
		return
	}
	apierr.WriteData(w, http.StatusCreated, subtask, "subtask created")
}

// UpdateSubtask 更新子任务，空字段保持不变
func (h *Handler) UpdateSubtask(w http.ResponseWriter, r *http.Request) {
	subtask, err := h.subtaskInTask(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	var req subtaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid request body"))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = subtask.Title
	}
	if req.Status == "" {
		req.Status = subtask.Status
	}
	if !model.ValidTaskStatus(req.Status) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "invalid subtask status"))
		return
	}

	if err := h.store.UpdateSubtask(r.Context(), subtask.ID, req.Title, req.Status); err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update subtask", err))
		return
	}

	subtask, err2 := h.store.GetSubtaskByID(r.Context(), subtask.ID)
	if err2 != nil || subtask == nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "reload subtask", err2))
		return
	}
	apierr.WriteData(w, http.StatusOK, subtask, "subtask updated")
}

// DeleteSubtask 删除子任务
func (h *Handler) DeleteSubtask(w http.ResponseWriter, r *http.Request) {
	subtask, err := h.subtaskInTask(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	if err := h.store.DeleteSubtask(r.Context(), subtask.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindNotFound, "subtask not found"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "delete subtask", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, nil, "subtask deleted")
}

// ============================================================================
// 工具函数
// ============================================================================

// taskInProject 取路径里的任务并校验归属项目，防止跨项目访问
func (h *Handler) taskInProject(r *http.Request) (*model.Task, error) {
	task, err := h.store.GetTaskByID(r.Context(), r.PathValue("taskId"))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "load task", err)
	}
	if task == nil || task.ProjectID != r.PathValue("projectId") {
		return nil, apierr.E(apierr.KindNotFound, "task not found")
	}
	return task, nil
}

// subtaskInTask 取路径里的子任务并校验归属任务
func (h *Handler) subtaskInTask(r *http.Request) (*model.Subtask, error) {
	task, err := h.taskInProject(r)
	if err != nil {
		return nil, err
	}
	subtask, err2 := h.store.GetSubtaskByID(r.Context(), r.PathValue("subtaskId"))
	if err2 != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "load subtask", err2)
	}
	if subtask == nil || subtask.TaskID != task.ID {
		return nil, apierr.E(apierr.KindNotFound, "subtask not found")
	}
	return subtask, nil
}

// generateID 生成带前缀的唯一标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

func randomSuffix() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}
