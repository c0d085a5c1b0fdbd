package mongostore

import (
	"context"
	"fmt"
	"time"

	"taskhub/internal/shared/model"
	"taskhub/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// SessionStore — 每用户有界刷新令牌集合
//
// 集合存放在 users.refresh_tokens（sha256 摘要）。所有修改都是单条
// 条件更新：并发刷新同一令牌时只有一个 UpdateOne 能命中过滤器，
// 另一个拿到 ErrSessionNotFound（重放被拒）。
// ============================================================================

// AddUserSession 追加一个会话令牌摘要
//
// 过滤器要求第 MaxSessions 个槽位不存在（数组长度 < MaxSessions），
// 超限时不命中 → ErrTooManySessions。策略是拒绝新会话而非逐出最旧会话。
func (s *Store) AddUserSession(ctx context.Context, id, tokenHash string) error {
	slot := fmt.Sprintf("refresh_tokens.%d", model.MaxSessions-1)
	matched, err := updateOne(ctx, s.col(ColUsers),
		bson.D{
			{Key: "_id", Value: id},
			{Key: slot, Value: bson.D{{Key: "$exists", Value: false}}},
		},
		bson.D{
			{Key: "$push", Value: bson.D{{Key: "refresh_tokens", Value: tokenHash}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now()}}},
		})
	if err != nil {
		return err
	}
	if !matched {
		// 区分用户不存在和会话超限
		user, err := s.GetUserByID(ctx, id)
		if err != nil {
			return err
		}
		if user == nil {
			return storage.ErrNotFound
		}
		return storage.ErrTooManySessions
	}
	return nil
}

// RemoveUserSession 移除一个会话令牌摘要，幂等：不存在时无操作
func (s *Store) RemoveUserSession(ctx context.Context, id, tokenHash string) error {
	matched, err := updateOne(ctx, s.col(ColUsers),
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "$pull", Value: bson.D{{Key: "refresh_tokens", Value: tokenHash}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now()}}},
		})
	if err != nil {
		return err
	}
	if !matched {
		return storage.ErrNotFound
	}
	return nil
}

// ClearUserSessions 清空全部会话（登出所有设备）
func (s *Store) ClearUserSessions(ctx context.Context, id string) error {
	return updateFields(ctx, s.col(ColUsers), id, bson.D{
		{Key: "refresh_tokens", Value: []string{}},
		{Key: "updated_at", Value: time.Now()},
	})
}

// RotateUserSession 原子轮换：旧令牌摘要原位替换为新摘要
//
// 过滤器包含旧摘要，定位操作符 $ 指向命中的数组元素。
// 旧令牌已被消费（或从未存在）时不命中 → ErrSessionNotFound。
func (s *Store) RotateUserSession(ctx context.Context, id, oldHash, newHash string) error {
	matched, err := updateOne(ctx, s.col(ColUsers),
		bson.D{
			{Key: "_id", Value: id},
			{Key: "refresh_tokens", Value: oldHash},
		},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "refresh_tokens.$", Value: newHash},
				{Key: "updated_at", Value: time.Now()},
			}},
		})
	if err != nil {
		return err
	}
	if !matched {
		return storage.ErrSessionNotFound
	}
	return nil
}

// HasUserSession 会话令牌摘要是否在当前集合中
func (s *Store) HasUserSession(ctx context.Context, id, tokenHash string) (bool, error) {
	user, err := findOne[model.User](ctx, s.col(ColUsers), bson.D{
		{Key: "_id", Value: id},
		{Key: "refresh_tokens", Value: tokenHash},
	})
	if err != nil {
		return false, err
	}
	return user != nil, nil
}
