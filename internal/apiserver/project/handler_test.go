package project

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"taskhub/internal/apiserver/auth"
	"taskhub/internal/shared/apierr"
	"taskhub/internal/shared/model"
	"taskhub/internal/shared/storage"
)

// memStore 内存项目存储
type memStore struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	members  map[string]*model.ProjectMember // projectID/userID
	users    map[string]*model.User
}

func newMemStore() *memStore {
	return &memStore{
		projects: make(map[string]*model.Project),
		members:  make(map[string]*model.ProjectMember),
		users:    make(map[string]*model.User),
	}
}

func (s *memStore) CreateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
	return nil
}

func (s *memStore) GetProjectByID(_ context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects[id], nil
}

func (s *memStore) UpdateProject(_ context.Context, id, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Name = name
	p.Description = description
	return nil
}

func (s *memStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.projects, id)
	for k, m := range s.members {
		if m.ProjectID == id {
			delete(s.members, k)
		}
	}
	return nil
}

func (s *memStore) ListProjectsByUser(_ context.Context, userID string) ([]*model.ProjectWithRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*model.ProjectWithRole{}
	for _, m := range s.members {
		if m.UserID != userID {
			continue
		}
		p, ok := s.projects[m.ProjectID]
		if !ok {
			continue
		}
		count := 0
		for _, other := range s.members {
			if other.ProjectID == m.ProjectID {
				count++
			}
		}
		result = append(result, &model.ProjectWithRole{Project: p, Role: m.Role, Members: count})
	}
	return result, nil
}

func (s *memStore) UpsertProjectMember(_ context.Context, member *model.ProjectMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := member.ProjectID + "/" + member.UserID
	if existing, ok := s.members[key]; ok {
		existing.Role = member.Role
		return nil
	}
	s.members[key] = member
	return nil
}

func (s *memStore) GetProjectMember(_ context.Context, projectID, userID string) (*model.ProjectMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[projectID+"/"+userID], nil
}

func (s *memStore) ListProjectMembers(_ context.Context, projectID string) ([]*model.ProjectMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*model.ProjectMember{}
	for _, m := range s.members {
		if m.ProjectID == projectID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *memStore) UpdateProjectMemberRole(_ context.Context, projectID, userID string, role model.MemberRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[projectID+"/"+userID]
	if !ok {
		return storage.ErrNotFound
	}
	m.Role = role
	return nil
}

func (s *memStore) DeleteProjectMember(_ context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := projectID + "/" + userID
	if _, ok := s.members[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.members, key)
	return nil
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

// ============================================================================
// 脚手架
// ============================================================================

type testEnv struct {
	mux   *http.ServeMux
	store *memStore
}

func newTestEnv() *testEnv {
	store := newMemStore()
	mux := http.NewServeMux()
	NewHandler(store).RegisterRoutes(mux)
	return &testEnv{mux: mux, store: store}
}

func (e *testEnv) addUser(id, email string) *model.User {
	u := &model.User{ID: id, Email: email, Username: id, Role: model.UserRoleUser, Active: true}
	e.store.users[id] = u
	return u
}

func (e *testEnv) addMember(projectID, userID string, role model.MemberRole) {
	e.store.members[projectID+"/"+userID] = &model.ProjectMember{
		ID: "pm-" + userID, ProjectID: projectID, UserID: userID, Role: role,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
}

func (e *testEnv) do(t *testing.T, user *model.User, method, path string, body interface{}) (*httptest.ResponseRecorder, apierr.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if user != nil {
		r = r.WithContext(auth.WithAuthUser(r.Context(), &auth.AuthUser{
			ID: user.ID, Email: user.Email, Username: user.Username, Role: string(user.Role),
		}))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	var env apierr.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, w.Body.String())
	}
	return w, env
}

// ============================================================================
// 项目
// ============================================================================

func TestCreateAndList(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("usr-alice", "alice@example.com")

	w, res := env.do(t, alice, "POST", "/api/v1/projects",
		map[string]string{"name": "Website Redesign", "description": "Q4 launch"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created model.Project
	raw, _ := json.Marshal(res.Data)
	json.Unmarshal(raw, &created)
	if created.CreatedBy != alice.ID {
		t.Fatalf("created_by = %q, want %q", created.CreatedBy, alice.ID)
	}

	// 创建者自动成为项目管理员
	m, _ := env.store.GetProjectMember(context.Background(), created.ID, alice.ID)
	if m == nil || m.Role != model.MemberRoleAdmin {
		t.Fatalf("creator should be project admin, got %+v", m)
	}

	w, res = env.do(t, alice, "GET", "/api/v1/projects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var list []*model.ProjectWithRole
	raw, _ = json.Marshal(res.Data)
	json.Unmarshal(raw, &list)
	if len(list) != 1 || list[0].Members != 1 || list[0].Role != model.MemberRoleAdmin {
		t.Fatalf("unexpected project list: %+v", list)
	}

	// 其他用户看不到别人的项目
	bob := env.addUser("usr-bob", "bob@example.com")
	w, res = env.do(t, bob, "GET", "/api/v1/projects", nil)
	raw, _ = json.Marshal(res.Data)
	list = nil
	json.Unmarshal(raw, &list)
	if len(list) != 0 {
		t.Fatalf("bob should see no projects, got %d", len(list))
	}
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv()
	alice := env.addUser("usr-alice", "alice@example.com")

	w, _ := env.do(t, alice, "POST", "/api/v1/projects", map[string]string{"name": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty name: expected 400, got %d", w.Code)
	}
}

// 项目级鉴权：写操作要求 admin/project_admin，全局 admin 豁免
func TestProjectRoleGating(t *testing.T) {
	env := newTestEnv()
	pa := env.addUser("usr-pa", "pa@example.com")
	member := env.addUser("usr-mem", "mem@example.com")
	outsider := env.addUser("usr-out", "out@example.com")
	root := env.addUser("usr-root", "root@example.com")
	root.Role = model.UserRoleAdmin

	env.store.projects["prj-1"] = &model.Project{ID: "prj-1", Name: "Demo", CreatedBy: pa.ID}
	env.addMember("prj-1", pa.ID, model.MemberRoleProjectAdmin)
	env.addMember("prj-1", member.ID, model.MemberRoleMember)

	update := map[string]string{"name": "Renamed"}

	if w, _ := env.do(t, member, "PUT", "/api/v1/projects/prj-1", update); w.Code != http.StatusForbidden {
		t.Fatalf("plain member update: expected 403, got %d", w.Code)
	}
	if w, _ := env.do(t, outsider, "GET", "/api/v1/projects/prj-1", nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider read: expected 403, got %d", w.Code)
	}
	if w, _ := env.do(t, member, "GET", "/api/v1/projects/prj-1", nil); w.Code != http.StatusOK {
		t.Fatalf("member read: expected 200, got %d", w.Code)
	}
	if w, _ := env.do(t, pa, "PUT", "/api/v1/projects/prj-1", update); w.Code != http.StatusOK {
		t.Fatalf("project admin update: expected 200, got %d", w.Code)
	}

	// 全局 admin 不在成员表也能删
	if w, _ := env.do(t, root, "DELETE", "/api/v1/projects/prj-1", nil); w.Code != http.StatusOK {
		t.Fatalf("global admin delete: expected 200, got %d", w.Code)
	}
	if p, _ := env.store.GetProjectByID(context.Background(), "prj-1"); p != nil {
		t.Fatal("project should be deleted")
	}
	// 级联删除成员关系
	if m, _ := env.store.GetProjectMember(context.Background(), "prj-1", pa.ID); m != nil {
		t.Fatal("members should be cascaded")
	}
}

func TestGet_NotFound(t *testing.T) {
	env := newTestEnv()
	root := env.addUser("usr-root", "root@example.com")
	root.Role = model.UserRoleAdmin

	w, _ := env.do(t, root, "GET", "/api/v1/projects/prj-missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// ============================================================================
// 成员
// ============================================================================

func TestMemberManagement(t *testing.T) {
	env := newTestEnv()
	pa := env.addUser("usr-pa", "pa@example.com")
	bob := env.addUser("usr-bob", "bob@example.com")
	env.store.projects["prj-1"] = &model.Project{ID: "prj-1", Name: "Demo", CreatedBy: pa.ID}
	env.addMember("prj-1", pa.ID, model.MemberRoleAdmin)

	// 未知邮箱
	w, _ := env.do(t, pa, "POST", "/api/v1/projects/prj-1/members",
		map[string]string{"email": "nobody@example.com"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown email: expected 404, got %d", w.Code)
	}

	// 非法角色
	w, _ = env.do(t, pa, "POST", "/api/v1/projects/prj-1/members",
		map[string]string{"email": "bob@example.com", "role": "owner"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: expected 400, got %d", w.Code)
	}

	// 添加成员，默认角色 member
	w, _ = env.do(t, pa, "POST", "/api/v1/projects/prj-1/members",
		map[string]string{"email": "bob@example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add member: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	m, _ := env.store.GetProjectMember(context.Background(), "prj-1", bob.ID)
	if m == nil || m.Role != model.MemberRoleMember {
		t.Fatalf("expected bob as member, got %+v", m)
	}

	// 重复添加是 upsert，不产生第二条记录
	w, _ = env.do(t, pa, "POST", "/api/v1/projects/prj-1/members",
		map[string]string{"email": "bob@example.com", "role": "project_admin"})
	if w.Code != http.StatusCreated {
		t.Fatalf("re-add member: expected 201, got %d", w.Code)
	}
	members, _ := env.store.ListProjectMembers(context.Background(), "prj-1")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	m, _ = env.store.GetProjectMember(context.Background(), "prj-1", bob.ID)
	if m.Role != model.MemberRoleProjectAdmin {
		t.Fatalf("upsert should update role, got %s", m.Role)
	}

	// 成员列表带用户概要
	w, res := env.do(t, pa, "GET", "/api/v1/projects/prj-1/members", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list members: expected 200, got %d", w.Code)
	}
	var withUsers []*model.MemberWithUser
	raw, _ := json.Marshal(res.Data)
	json.Unmarshal(raw, &withUsers)
	if len(withUsers) != 2 {
		t.Fatalf("expected 2 members with users, got %d", len(withUsers))
	}

	// 角色修改
	w, _ = env.do(t, pa, "PUT", "/api/v1/projects/prj-1/members/"+bob.ID,
		map[string]string{"role": "member"})
	if w.Code != http.StatusOK {
		t.Fatalf("update role: expected 200, got %d", w.Code)
	}

	// 移除
	w, _ = env.do(t, pa, "DELETE", "/api/v1/projects/prj-1/members/"+bob.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove member: expected 200, got %d", w.Code)
	}
	w, _ = env.do(t, pa, "DELETE", "/api/v1/projects/prj-1/members/"+bob.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("remove again: expected 404, got %d", w.Code)
	}
}

// 普通成员不能管理成员
func TestMemberManagement_Forbidden(t *testing.T) {
	env := newTestEnv()
	pa := env.addUser("usr-pa", "pa@example.com")
	member := env.addUser("usr-mem", "mem@example.com")
	env.store.projects["prj-1"] = &model.Project{ID: "prj-1", Name: "Demo", CreatedBy: pa.ID}
	env.addMember("prj-1", pa.ID, model.MemberRoleAdmin)
	env.addMember("prj-1", member.ID, model.MemberRoleMember)

	w, _ := env.do(t, member, "POST", "/api/v1/projects/prj-1/members",
		map[string]string{"email": "pa@example.com"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("member adding member: expected 403, got %d", w.Code)
	}
	w, _ = env.do(t, member, "DELETE", "/api/v1/projects/prj-1/members/"+pa.ID, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("member removing member: expected 403, got %d", w.Code)
	}
}
