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
// TaskStore
// ============================================================================

func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	return insertOne(ctx, s.col(ColTasks), task)
}

func (s *Store) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	return findOne[model.Task](ctx, s.col(ColTasks), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListTasksByProject(ctx context.Context, projectID string) ([]*model.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return findMany[model.Task](ctx, s.col(ColTasks),
		bson.D{{Key: "project_id", Value: projectID}}, opts)
}

func (s *Store) UpdateTask(ctx context.Context, id string, title, description string, assignedTo string, status model.TaskStatus) error {
	return updateFields(ctx, s.col(ColTasks), id, bson.D{
		{Key: "title", Value: title},
		{Key: "description", Value: description},
		{Key: "assigned_to", Value: assignedTo},
		{Key: "status", Value: status},
		{Key: "updated_at", Value: time.Now()},
	})
}

// DeleteTask 删除任务并级联删除其子任务
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := deleteByID(ctx, s.col(ColTasks), id); err != nil {
		return err
	}
	_, err := s.col(ColSubtasks).DeleteMany(ctx, bson.D{{Key: "task_id", Value: id}})
	return wrapError(err)
}

// AddTaskAttachments 追加附件（$push $each，单条更新）
func (s *Store) AddTaskAttachments(ctx context.Context, id string, attachments []model.Attachment) error {
	matched, err := updateOne(ctx, s.col(ColTasks),
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "$push", Value: bson.D{{Key: "attachments", Value: bson.D{{Key: "$each", Value: attachments}}}}},
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

// ListTasksByAssignee 列出指派给某用户的全部任务（状态跟踪）
func (s *Store) ListTasksByAssignee(ctx context.Context, userID string) ([]*model.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	return findMany[model.Task](ctx, s.col(ColTasks),
		bson.D{{Key: "assigned_to", Value: userID}}, opts)
}

// ============================================================================
// SubtaskStore
// ============================================================================

func (s *Store) CreateSubtask(ctx context.Context, subtask *model.Subtask) error {
	return insertOne(ctx, s.col(ColSubtasks), subtask)
}

func (s *Store) GetSubtaskByID(ctx context.Context, id string) (*model.Subtask, error) {
	return findOne[model.Subtask](ctx, s.col(ColSubtasks), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListSubtasksByTask(ctx context.Context, taskID string) ([]*model.Subtask, error) {
	return findMany[model.Subtask](ctx, s.col(ColSubtasks),
		bson.D{{Key: "task_id", Value: taskID}})
}

func (s *Store) UpdateSubtask(ctx context.Context, id, title string, status model.TaskStatus) error {
	return updateFields(ctx, s.col(ColSubtasks), id, bson.D{
		{Key: "title", Value: title},
		{Key: "status", Value: status},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) DeleteSubtask(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColSubtasks), id)
}
