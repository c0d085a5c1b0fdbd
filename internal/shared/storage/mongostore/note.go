package mongostore

import (
	"context"
	"time"

	"taskhub/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// ProjectNoteStore
// ============================================================================

func (s *Store) CreateNote(ctx context.Context, note *model.ProjectNote) error {
	return insertOne(ctx, s.col(ColProjectNotes), note)
}

func (s *Store) GetNoteByID(ctx context.Context, id string) (*model.ProjectNote, error) {
	return findOne[model.ProjectNote](ctx, s.col(ColProjectNotes), bson.D{{Key: "_id", Value: id}})
}

// ListNotesByProject 置顶优先，其余按创建时间倒序
func (s *Store) ListNotesByProject(ctx context.Context, projectID string) ([]*model.ProjectNote, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "pinned", Value: -1},
		{Key: "created_at", Value: -1},
	})
	return findMany[model.ProjectNote](ctx, s.col(ColProjectNotes),
		bson.D{{Key: "project_id", Value: projectID}}, opts)
}

func (s *Store) UpdateNote(ctx context.Context, id, content string, pinned bool) error {
	return updateFields(ctx, s.col(ColProjectNotes), id, bson.D{
		{Key: "content", Value: content},
		{Key: "pinned", Value: pinned},
		{Key: "updated_at", Value: time.Now()},
	})
}

// DeleteNote 删除笔记并级联删除其评论
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	if err := deleteByID(ctx, s.col(ColProjectNotes), id); err != nil {
		return err
	}
	_, err := s.col(ColNoteComments).DeleteMany(ctx, bson.D{{Key: "note_id", Value: id}})
	return wrapError(err)
}

// ============================================================================
// NoteCommentStore
// ============================================================================

func (s *Store) CreateComment(ctx context.Context, comment *model.NoteComment) error {
	return insertOne(ctx, s.col(ColNoteComments), comment)
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*model.NoteComment, error) {
	return findOne[model.NoteComment](ctx, s.col(ColNoteComments), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListCommentsByNote(ctx context.Context, noteID string) ([]*model.NoteComment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return findMany[model.NoteComment](ctx, s.col(ColNoteComments),
		bson.D{{Key: "note_id", Value: noteID}}, opts)
}

func (s *Store) UpdateComment(ctx context.Context, id, content string) error {
	return updateFields(ctx, s.col(ColNoteComments), id, bson.D{
		{Key: "content", Value: content},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) DeleteComment(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColNoteComments), id)
}
