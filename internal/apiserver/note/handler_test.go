package note

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

// memStore 内存笔记存储
type memStore struct {
	mu       sync.Mutex
	notes    map[string]*model.ProjectNote
	comments map[string]*model.NoteComment
	members  map[string]*model.ProjectMember // projectID/userID
}

func newMemStore() *memStore {
	return &memStore{
		notes:    make(map[string]*model.ProjectNote),
		comments: make(map[string]*model.NoteComment),
		members:  make(map[string]*model.ProjectMember),
	}
}

func (s *memStore) CreateNote(_ context.Context, note *model.ProjectNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[note.ID] = note
	return nil
}

func (s *memStore) GetNoteByID(_ context.Context, id string) (*model.ProjectNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes[id], nil
}

func (s *memStore) ListNotesByProject(_ context.Context, projectID string) ([]*model.ProjectNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*model.ProjectNote{}
	for _, n := range s.notes {
		if n.ProjectID == projectID {
			result = append(result, n)
		}
	}
	return result, nil
}

func (s *memStore) UpdateNote(_ context.Context, id, content string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return storage.ErrNotFound
	}
	n.Content, n.Pinned = content, pinned
	return nil
}

func (s *memStore) DeleteNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.notes, id)
	for k, c := range s.comments {
		if c.NoteID == id {
			delete(s.comments, k)
		}
	}
	return nil
}

func (s *memStore) CreateComment(_ context.Context, comment *model.NoteComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[comment.ID] = comment
	return nil
}

func (s *memStore) GetCommentByID(_ context.Context, id string) (*model.NoteComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comments[id], nil
}

func (s *memStore) ListCommentsByNote(_ context.Context, noteID string) ([]*model.NoteComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []*model.NoteComment{}
	for _, c := range s.comments {
		if c.NoteID == noteID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *memStore) UpdateComment(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Content = content
	return nil
}

func (s *memStore) DeleteComment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.comments, id)
	return nil
}

func (s *memStore) GetProjectMember(_ context.Context, projectID, userID string) (*model.ProjectMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[projectID+"/"+userID], nil
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

func (e *testEnv) addMember(projectID, userID string, role model.MemberRole) *auth.AuthUser {
	e.store.members[projectID+"/"+userID] = &model.ProjectMember{
		ID: "pm-" + userID, ProjectID: projectID, UserID: userID, Role: role,
	}
	return &auth.AuthUser{ID: userID, Email: userID + "@x.com", Username: userID, Role: "user"}
}

func (e *testEnv) addNote(id, projectID, createdBy string) *model.ProjectNote {
	n := &model.ProjectNote{
		ID: id, ProjectID: projectID, CreatedBy: createdBy, Content: "note " + id,
		Attachments: []model.Attachment{}, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	e.store.notes[id] = n
	return n
}

func (e *testEnv) do(t *testing.T, user *auth.AuthUser, method, path string, body interface{}) (*httptest.ResponseRecorder, apierr.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if user != nil {
		r = r.WithContext(auth.WithAuthUser(r.Context(), user))
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
// 笔记
// ============================================================================

func TestNoteCRUD(t *testing.T) {
	env := newTestEnv()
	pa := env.addMember("prj-1", "usr-pa", model.MemberRoleProjectAdmin)

	w, res := env.do(t, pa, "POST", "/api/v1/projects/prj-1/notes",
		map[string]interface{}{"content": "Kickoff meeting notes", "pinned": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created model.ProjectNote
	raw, _ := json.Marshal(res.Data)
	json.Unmarshal(raw, &created)
	if !created.Pinned || created.CreatedBy != pa.ID {
		t.Fatalf("unexpected note: %+v", created)
	}

	w, _ = env.do(t, pa, "GET", "/api/v1/projects/prj-1/notes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	w, _ = env.do(t, pa, "PUT", "/api/v1/projects/prj-1/notes/"+created.ID,
		map[string]interface{}{"content": "Updated notes", "pinned": false})
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", w.Code)
	}
	note, _ := env.store.GetNoteByID(context.Background(), created.ID)
	if note.Pinned || note.Content != "Updated notes" {
		t.Fatalf("note not updated: %+v", note)
	}

	// 删除级联评论
	env.store.comments["cmt-1"] = &model.NoteComment{ID: "cmt-1", NoteID: created.ID, Content: "hi"}
	w, _ = env.do(t, pa, "DELETE", "/api/v1/projects/prj-1/notes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if c, _ := env.store.GetCommentByID(context.Background(), "cmt-1"); c != nil {
		t.Fatal("comments should be cascaded")
	}
}

func TestNoteGating(t *testing.T) {
	env := newTestEnv()
	env.addMember("prj-1", "usr-pa", model.MemberRoleProjectAdmin)
	member := env.addMember("prj-1", "usr-mem", model.MemberRoleMember)
	outsider := &auth.AuthUser{ID: "usr-out", Role: "user"}
	note := env.addNote("note-1", "prj-1", "usr-pa")

	if w, _ := env.do(t, member, "GET", "/api/v1/projects/prj-1/notes", nil); w.Code != http.StatusOK {
		t.Fatalf("member list: expected 200, got %d", w.Code)
	}
	if w, _ := env.do(t, member, "POST", "/api/v1/projects/prj-1/notes",
		map[string]string{"content": "x"}); w.Code != http.StatusForbidden {
		t.Fatalf("member create: expected 403, got %d", w.Code)
	}
	if w, _ := env.do(t, member, "PUT", "/api/v1/projects/prj-1/notes/"+note.ID,
		map[string]string{"content": "x"}); w.Code != http.StatusForbidden {
		t.Fatalf("member update: expected 403, got %d", w.Code)
	}
	if w, _ := env.do(t, outsider, "GET", "/api/v1/projects/prj-1/notes", nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider list: expected 403, got %d", w.Code)
	}
}

// 笔记路径必须和归属项目一致
func TestNote_CrossProject(t *testing.T) {
	env := newTestEnv()
	env.addNote("note-1", "prj-1", "usr-pa")
	pa2 := env.addMember("prj-2", "usr-pa2", model.MemberRoleProjectAdmin)

	w, _ := env.do(t, pa2, "GET", "/api/v1/projects/prj-2/notes/note-1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-project access: expected 404, got %d", w.Code)
	}
}

// ============================================================================
// 评论
// ============================================================================

func TestComments_ThreadedCreate(t *testing.T) {
	env := newTestEnv()
	member := env.addMember("prj-1", "usr-mem", model.MemberRoleMember)
	note := env.addNote("note-1", "prj-1", "usr-pa")

	w, res := env.do(t, member, "POST", "/api/v1/projects/prj-1/notes/"+note.ID+"/comments",
		map[string]string{"content": "First!"})
	if w.Code != http.StatusCreated {
		t.Fatalf("comment: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var parent model.NoteComment
	raw, _ := json.Marshal(res.Data)
	json.Unmarshal(raw, &parent)

	// 回复
	w, res = env.do(t, member, "POST", "/api/v1/projects/prj-1/notes/"+note.ID+"/comments",
		map[string]string{"content": "Replying", "parentCommentId": parent.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("reply: expected 201, got %d", w.Code)
	}
	var reply model.NoteComment
	raw, _ = json.Marshal(res.Data)
	json.Unmarshal(raw, &reply)
	if reply.ParentCommentID != parent.ID {
		t.Fatalf("reply should reference parent, got %q", reply.ParentCommentID)
	}

	// 回复不存在的评论
	w, _ = env.do(t, member, "POST", "/api/v1/projects/prj-1/notes/"+note.ID+"/comments",
		map[string]string{"content": "x", "parentCommentId": "cmt-ghost"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("ghost parent: expected 400, got %d", w.Code)
	}

	w, res = env.do(t, member, "GET", "/api/v1/projects/prj-1/notes/"+note.ID+"/comments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list comments: expected 200, got %d", w.Code)
	}
	var comments []*model.NoteComment
	raw, _ = json.Marshal(res.Data)
	json.Unmarshal(raw, &comments)
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
}

// 评论修改/删除：作者本人或项目管理角色
func TestComments_AuthorOrManager(t *testing.T) {
	env := newTestEnv()
	pa := env.addMember("prj-1", "usr-pa", model.MemberRoleProjectAdmin)
	author := env.addMember("prj-1", "usr-author", model.MemberRoleMember)
	other := env.addMember("prj-1", "usr-other", model.MemberRoleMember)
	note := env.addNote("note-1", "prj-1", "usr-pa")
	env.store.comments["cmt-1"] = &model.NoteComment{
		ID: "cmt-1", NoteID: note.ID, Content: "mine", CreatedBy: author.ID,
	}
	base := "/api/v1/projects/prj-1/notes/" + note.ID + "/comments/cmt-1"

	// 其他普通成员不能改别人的评论
	if w, _ := env.do(t, other, "PUT", base, map[string]string{"content": "hijack"}); w.Code != http.StatusForbidden {
		t.Fatalf("other member edit: expected 403, got %d", w.Code)
	}
	if w, _ := env.do(t, other, "DELETE", base, nil); w.Code != http.StatusForbidden {
		t.Fatalf("other member delete: expected 403, got %d", w.Code)
	}

	// 作者可以改
	if w, _ := env.do(t, author, "PUT", base, map[string]string{"content": "edited"}); w.Code != http.StatusOK {
		t.Fatalf("author edit: expected 200, got %d", w.Code)
	}
	c, _ := env.store.GetCommentByID(context.Background(), "cmt-1")
	if c.Content != "edited" {
		t.Fatalf("comment not updated: %+v", c)
	}

	// 项目管理员可以删别人的评论
	if w, _ := env.do(t, pa, "DELETE", base, nil); w.Code != http.StatusOK {
		t.Fatalf("project admin delete: expected 200, got %d", w.Code)
	}
	if c, _ := env.store.GetCommentByID(context.Background(), "cmt-1"); c != nil {
		t.Fatal("comment should be deleted")
	}
}
