package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskhub/internal/shared/model"
)

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		expected bool
	}{
		// 公开路由
		{"register", "POST", "/api/v1/auth/register", true},
		{"login", "POST", "/api/v1/auth/login", true},
		{"refresh", "POST", "/api/v1/auth/refresh-token", true},
		{"verify email", "POST", "/api/v1/auth/verify-email", true},
		{"resend verification", "POST", "/api/v1/auth/resend-verification", true},
		{"forgot password", "POST", "/api/v1/auth/forgot-password", true},
		{"reset password", "POST", "/api/v1/auth/reset-password", true},
		{"health", "GET", "/health", true},
		{"metrics", "GET", "/metrics", true},

		// 需要 JWT 的路由
		{"logout", "POST", "/api/v1/auth/logout", false},
		{"change password", "POST", "/api/v1/auth/change-password", false},
		{"me", "GET", "/api/v1/auth/me", false},
		{"projects", "GET", "/api/v1/projects", false},
		{"tasks", "POST", "/api/v1/projects/prj-1/tasks", false},
		{"wrong method on public path", "GET", "/api/v1/auth/login", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isPublicRoute(tt.method, tt.path)
			if got != tt.expected {
				t.Errorf("isPublicRoute(%q, %q) = %v, want %v", tt.method, tt.path, got, tt.expected)
			}
		})
	}
}

// fakeUsers 只认内存里那几个用户
type fakeUsers struct {
	users map[string]*model.User
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.users[id], nil
}

func activeUser(id string) *model.User {
	return &model.User{ID: id, Email: id + "@x.com", Username: id, Role: model.UserRoleUser, Active: true}
}

func TestMiddleware(t *testing.T) {
	cfg := testConfig()
	alice := activeUser("usr-alice")
	bob := activeUser("usr-bob")
	bob.Active = false
	users := &fakeUsers{users: map[string]*model.User{alice.ID: alice, bob.ID: bob}}

	var seen *AuthUser
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(cfg, users)(next)

	mustToken := func(u *model.User) string {
		s, err := GenerateAccessToken(cfg, u.ID, u.Email, u.Username, string(u.Role))
		if err != nil {
			t.Fatalf("GenerateAccessToken: %v", err)
		}
		return s
	}

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("public route passes through", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("bearer header", func(t *testing.T) {
		seen = nil
		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+mustToken(alice))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if seen == nil || seen.ID != alice.ID || seen.Role != "user" {
			t.Fatalf("auth user not injected: %+v", seen)
		}
	})

	t.Run("access token cookie", func(t *testing.T) {
		seen = nil
		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.AddCookie(&http.Cookie{Name: "accessToken", Value: mustToken(alice)})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if seen == nil || seen.ID != alice.ID {
			t.Fatalf("auth user not injected: %+v", seen)
		}
	})

	t.Run("deactivated user", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+mustToken(bob))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})

	t.Run("deleted user", func(t *testing.T) {
		ghost := activeUser("usr-ghost")
		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+mustToken(ghost))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired := cfg
		expired.AccessTokenTTL = -1
		s, _ := GenerateAccessToken(expired, alice.ID, alice.Email, alice.Username, "user")
		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+s)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})
}

// fakeMembers 内存成员表，键 projectID/userID
type fakeMembers struct {
	members map[string]*model.ProjectMember
}

func (f *fakeMembers) GetProjectMember(_ context.Context, projectID, userID string) (*model.ProjectMember, error) {
	return f.members[projectID+"/"+userID], nil
}

func TestRequireRole(t *testing.T) {
	handler := AdminOnly(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	call := func(user *AuthUser) int {
		r := httptest.NewRequest("GET", "/api/v1/admin/users", nil)
		if user != nil {
			r = r.WithContext(WithAuthUser(r.Context(), user))
		}
		w := httptest.NewRecorder()
		handler(w, r)
		return w.Code
	}

	if code := call(nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: expected 401, got %d", code)
	}
	// 普通用户全局角色不够，403 而不是 404，管理路由的存在不保密
	if code := call(&AuthUser{ID: "usr-u", Role: "user"}); code != http.StatusForbidden {
		t.Fatalf("plain user: expected 403, got %d", code)
	}
	if code := call(&AuthUser{ID: "usr-a", Role: "admin"}); code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", code)
	}
	// 未知角色串同样拒绝
	if code := call(&AuthUser{ID: "usr-x", Role: "superuser"}); code != http.StatusForbidden {
		t.Fatalf("unknown role: expected 403, got %d", code)
	}
}

func TestRequireProjectRole(t *testing.T) {
	members := &fakeMembers{members: map[string]*model.ProjectMember{
		"prj-1/usr-pa":  {ProjectID: "prj-1", UserID: "usr-pa", Role: model.MemberRoleProjectAdmin},
		"prj-1/usr-mem": {ProjectID: "prj-1", UserID: "usr-mem", Role: model.MemberRoleMember},
	}}

	gate := RequireProjectRole(members, model.MemberRoleAdmin, model.MemberRoleProjectAdmin)
	handler := gate(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	call := func(user *AuthUser, projectID string) int {
		r := httptest.NewRequest("DELETE", "/api/v1/projects/"+projectID, nil)
		r.SetPathValue("projectId", projectID)
		if user != nil {
			r = r.WithContext(WithAuthUser(r.Context(), user))
		}
		w := httptest.NewRecorder()
		handler(w, r)
		return w.Code
	}

	if code := call(nil, "prj-1"); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: expected 401, got %d", code)
	}
	// 全局 admin 不看成员表
	if code := call(&AuthUser{ID: "usr-root", Role: "admin"}, "prj-1"); code != http.StatusOK {
		t.Fatalf("global admin: expected 200, got %d", code)
	}
	if code := call(&AuthUser{ID: "usr-pa", Role: "user"}, "prj-1"); code != http.StatusOK {
		t.Fatalf("project admin: expected 200, got %d", code)
	}
	if code := call(&AuthUser{ID: "usr-mem", Role: "user"}, "prj-1"); code != http.StatusForbidden {
		t.Fatalf("plain member: expected 403, got %d", code)
	}
	if code := call(&AuthUser{ID: "usr-out", Role: "user"}, "prj-1"); code != http.StatusForbidden {
		t.Fatalf("non-member: expected 403, got %d", code)
	}
	if code := call(&AuthUser{ID: "usr-pa", Role: "user"}, "prj-2"); code != http.StatusForbidden {
		t.Fatalf("other project: expected 403, got %d", code)
	}
}
