package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUser_SensitiveFieldsNotSerialized 敏感字段不得出现在 JSON 输出中
func TestUser_SensitiveFieldsNotSerialized(t *testing.T) {
	now := time.Now()
	u := User{
		ID:            "usr-001",
		Email:         "a@x.com",
		Username:      "alice",
		PasswordHash:  "$2a$12$secret",
		Role:          UserRoleUser,
		RefreshTokens: []string{"deadbeef"},
		PasswordResetToken:     "cafebabe",
		EmailVerificationToken: "feedface",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	data, err := json.Marshal(u)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "a@x.com", out["email"])
	assert.NotContains(t, string(data), "secret")
	assert.NotContains(t, string(data), "deadbeef")
	assert.NotContains(t, string(data), "cafebabe")
	assert.NotContains(t, string(data), "feedface")
	assert.NotContains(t, out, "password_hash")
	assert.NotContains(t, out, "refresh_tokens")
}

func TestValidMemberRole(t *testing.T) {
	assert.True(t, ValidMemberRole(MemberRoleAdmin))
	assert.True(t, ValidMemberRole(MemberRoleProjectAdmin))
	assert.True(t, ValidMemberRole(MemberRoleMember))
	assert.False(t, ValidMemberRole("owner"))
	assert.False(t, ValidMemberRole(""))
}

func TestValidTaskStatus(t *testing.T) {
	assert.True(t, ValidTaskStatus(TaskStatusTodo))
	assert.True(t, ValidTaskStatus(TaskStatusInProgress))
	assert.True(t, ValidTaskStatus(TaskStatusDone))
	assert.False(t, ValidTaskStatus("cancelled"))
}

func TestUser_Summary(t *testing.T) {
	u := User{ID: "usr-001", Username: "alice", Email: "a@x.com", PasswordHash: "h"}
	s := u.Summary()
	assert.Equal(t, "usr-001", s.ID)
	assert.Equal(t, "alice", s.Username)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password")
}
