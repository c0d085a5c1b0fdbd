package mongostore

import (
	"context"
	"time"

	"taskhub/internal/shared/model"
	"taskhub/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	return insertOne(ctx, s.col(ColUsers), user)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return findOne[model.User](ctx, s.col(ColUsers), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return findOne[model.User](ctx, s.col(ColUsers), bson.D{{Key: "email", Value: email}})
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return findOne[model.User](ctx, s.col(ColUsers), bson.D{{Key: "username", Value: username}})
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColUsers), id)
}

// ListUsers 全量用户列表（管理后台用），注册时间倒序
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	return findMany[model.User](ctx, s.col(ColUsers), bson.D{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

// SetUserRole 修改全局角色
func (s *Store) SetUserRole(ctx context.Context, id string, role model.UserRole) error {
	return updateFields(ctx, s.col(ColUsers), id, bson.D{
		{Key: "role", Value: role},
		{Key: "updated_at", Value: time.Now()},
	})
}

// UpdateUserProfile 更新用户名/邮箱，空串表示该字段不变
func (s *Store) UpdateUserProfile(ctx context.Context, id, username, email string) error {
	set := bson.D{{Key: "updated_at", Value: time.Now()}}
	if username != "" {
		set = append(set, bson.E{Key: "username", Value: username})
	}
	if email != "" {
		set = append(set, bson.E{Key: "email", Value: email})
	}
	return updateFields(ctx, s.col(ColUsers), id, set)
}

// UpdateUserPassword 替换密码哈希并清空全部会话
//
// 改密后所有已发放的刷新令牌必须失效，这两个写入在同一条更新里完成。
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	return updateFields(ctx, s.col(ColUsers), id, bson.D{
		{Key: "password_hash", Value: passwordHash},
		{Key: "refresh_tokens", Value: []string{}},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) SetUserAvatar(ctx context.Context, id string, avatar *model.Avatar) error {
	return updateFields(ctx, s.col(ColUsers), id, bson.D{
		{Key: "avatar", Value: avatar},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	return updateFields(ctx, s.col(ColUsers), id, bson.D{
		{Key: "active", Value: active},
		{Key: "updated_at", Value: time.Now()},
	})
}

// ============================================================================
// 邮箱验证 / 密码重置令牌
// ============================================================================

// SetEmailVerificationToken 写入验证令牌摘要与过期时间，并记录发送时间（冷却用）
func (s *Store) SetEmailVerificationToken(ctx context.Context, id, tokenHash string, expiry, sentAt time.Time) error {
	return updateFields(ctx, s.col(ColUsers), id, bson.D{
		{Key: "email_verification_token", Value: tokenHash},
		{Key: "email_verification_token_expiry", Value: expiry},
		{Key: "last_verification_email_at", Value: sentAt},
		{Key: "updated_at", Value: time.Now()},
	})
}

// MarkEmailVerified 凭验证令牌置验证标志并清除令牌
//
// 按令牌摘要定位用户，过期时间也在过滤器里：令牌已消费或已过期时
// 不命中，返回 ErrNotFound。这保证了令牌单次使用。
func (s *Store) MarkEmailVerified(ctx context.Context, tokenHash string) error {
	matched, err := updateOne(ctx, s.col(ColUsers),
		bson.D{
			{Key: "email_verification_token", Value: tokenHash},
			{Key: "email_verification_token_expiry", Value: bson.D{{Key: "$gt", Value: time.Now()}}},
		},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "email_verified", Value: true},
				{Key: "updated_at", Value: time.Now()},
			}},
			{Key: "$unset", Value: bson.D{
				{Key: "email_verification_token", Value: ""},
				{Key: "email_verification_token_expiry", Value: ""},
			}},
		})
	if err != nil {
		return err
	}
	if !matched {
		return storage.ErrNotFound
	}
	return nil
}

// SetPasswordResetToken 写入重置令牌摘要与过期时间
func (s *Store) SetPasswordResetToken(ctx context.Context, id, tokenHash string, expiry time.Time) error {
	return updateFields(ctx, s.col(ColUsers), id, bson.D{
		{Key: "password_reset_token", Value: tokenHash},
		{Key: "password_reset_token_expiry", Value: expiry},
		{Key: "updated_at", Value: time.Now()},
	})
}

// ResetUserPassword 凭重置令牌替换密码哈希，清除令牌和全部会话
//
// 按令牌摘要定位用户并检查过期时间，已消费或已过期返回 ErrNotFound。
// 重置后旧密码拿到的刷新令牌全部作废。
func (s *Store) ResetUserPassword(ctx context.Context, tokenHash, passwordHash string) error {
	matched, err := updateOne(ctx, s.col(ColUsers),
		bson.D{
			{Key: "password_reset_token", Value: tokenHash},
			{Key: "password_reset_token_expiry", Value: bson.D{{Key: "$gt", Value: time.Now()}}},
		},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "password_hash", Value: passwordHash},
				{Key: "refresh_tokens", Value: []string{}},
				{Key: "updated_at", Value: time.Now()},
			}},
			{Key: "$unset", Value: bson.D{
				{Key: "password_reset_token", Value: ""},
				{Key: "password_reset_token_expiry", Value: ""},
			}},
		})
	if err != nil {
		return err
	}
	if !matched {
		return storage.ErrNotFound
	}
	return nil
}
