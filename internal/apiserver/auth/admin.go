package auth

import (
	"errors"
	"log"
	"net/http"

	"taskhub/internal/shared/apierr"
	"taskhub/internal/shared/model"
	"taskhub/internal/shared/storage"
)

// ============================================================================
// 管理后台：用户管理（路由层已由 AdminOnly 把关）
// ============================================================================

type updateRoleRequest struct {
	Role model.UserRole `json:"role"`
}

// AdminListUsers 全量用户列表
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "list users", err))
		return
	}
	apierr.WriteData(w, http.StatusOK, users, "")
}

// AdminGetUser 查看任意用户
func (h *Handler) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUserByID(r.Context(), r.PathValue("userId"))
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

// AdminUpdateRole 修改用户的全局角色
//
// 管理员不能改自己的角色，防止把最后一个 admin 降级成普通用户。
func (h *Handler) AdminUpdateRole(w http.ResponseWriter, r *http.Request) {
	admin := GetAuthUser(r.Context())
	if admin == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}
	targetID := r.PathValue("userId")

	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if !model.ValidUserRole(req.Role) {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "role must be admin or user"))
		return
	}
	if admin.ID == targetID {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "cannot change your own role"))
		return
	}

	if err := h.store.SetUserRole(r.Context(), targetID, req.Role); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "update role", err))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), targetID)
	if err != nil || user == nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "reload user", err))
		return
	}

	log.Printf("[auth.admin] Role changed: %s -> %s by %s", targetID, req.Role, admin.ID)
	apierr.WriteData(w, http.StatusOK, user, "role updated")
}

// AdminDeleteUser 删除任意用户账号
//
// 删自己走 DELETE /auth/me，这里拒绝，避免误操作删掉当前管理员。
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	admin := GetAuthUser(r.Context())
	if admin == nil {
		apierr.WriteError(w, apierr.E(apierr.KindUnauthorized, "not authenticated"))
		return
	}
	targetID := r.PathValue("userId")
	if admin.ID == targetID {
		apierr.WriteError(w, apierr.E(apierr.KindValidation, "use the account deletion endpoint to delete yourself"))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), targetID)
	if err != nil {
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "load user", err))
		return
	}
	if user == nil {
		apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
		return
	}

	// 头像对象尽力清理，失败只记日志
	if user.Avatar != nil && user.Avatar.Key != "" && h.files != nil {
		if err := h.files.Remove(r.Context(), user.Avatar.Key); err != nil {
			log.Printf("[auth.admin] remove avatar %s: %v", user.Avatar.Key, err)
		}
	}
	if err := h.store.DeleteUser(r.Context(), targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierr.WriteError(w, apierr.E(apierr.KindNotFound, "user not found"))
			return
		}
		apierr.WriteError(w, apierr.Wrap(apierr.KindInternal, "delete user", err))
		return
	}

	log.Printf("[auth.admin] User deleted: %s (%s) by %s", user.Email, targetID, admin.ID)
	apierr.WriteData(w, http.StatusOK, nil, "user deleted")
}
