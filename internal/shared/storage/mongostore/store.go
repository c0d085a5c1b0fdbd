// Package mongostore 实现基于 MongoDB 的持久化存储
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 所有 Collection 名称和索引在 ensureIndexes 中统一管理。
//
// 会话（刷新令牌）相关的修改全部是单条条件更新（$push/$pull/定位 $set），
// 不做读取-修改-写回，避免并发刷新丢失轮换。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection 名称常量
const (
	ColUsers          = "users"
	ColProjects       = "projects"
	ColProjectMembers = "project_members"
	ColTasks          = "tasks"
	ColSubtasks       = "subtasks"
	ColProjectNotes   = "project_notes"
	ColNoteComments   = "note_comments"
)

// Store MongoDB 存储实例
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "taskhub"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{client: client, db: db}

	// 创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// Ping 检查数据库连通性（健康检查用）
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// users：邮箱、用户名全局唯一
		{ColUsers, bson.D{{Key: "email", Value: 1}}, true},
		{ColUsers, bson.D{{Key: "username", Value: 1}}, true},

		// project_members：同一用户在同一项目只有一条成员关系
		{ColProjectMembers, bson.D{{Key: "project_id", Value: 1}, {Key: "user_id", Value: 1}}, true},
		{ColProjectMembers, bson.D{{Key: "user_id", Value: 1}}, false},

		// projects
		{ColProjects, bson.D{{Key: "created_by", Value: 1}}, false},
		{ColProjects, bson.D{{Key: "created_at", Value: -1}}, false},

		// tasks
		{ColTasks, bson.D{{Key: "project_id", Value: 1}}, false},
		{ColTasks, bson.D{{Key: "status", Value: 1}}, false},
		{ColTasks, bson.D{{Key: "assigned_to", Value: 1}}, false},

		// subtasks
		{ColSubtasks, bson.D{{Key: "task_id", Value: 1}}, false},

		// project_notes
		{ColProjectNotes, bson.D{{Key: "project_id", Value: 1}, {Key: "pinned", Value: -1}}, false},

		// note_comments
		{ColNoteComments, bson.D{{Key: "note_id", Value: 1}}, false},
		{ColNoteComments, bson.D{{Key: "parent_comment_id", Value: 1}}, false},
	}

	for _, i := range indexes {
		model := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	return nil
}
