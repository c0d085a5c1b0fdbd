// Package storage 定义存储层领域错误
//
// 这些错误用于隔离业务层与底层存储引擎的错误类型，
// mongostore 负责将驱动错误转换为这些领域错误。
package storage

import "errors"

var (
	// ErrNotFound 实体不存在
	// 替代 mongo.ErrNoDocuments
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate 唯一键冲突（邮箱/用户名/成员关系重复）
	ErrDuplicate = errors.New("duplicate: entity already exists")

	// ErrTooManySessions 会话数超出单用户上限
	ErrTooManySessions = errors.New("too many active sessions")

	// ErrSessionNotFound 会话（刷新令牌）不在当前集合中
	// 轮换时命中它意味着令牌已被消费或撤销（重放）
	ErrSessionNotFound = errors.New("session not found")
)
