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
// ProjectStore
// ============================================================================

func (s *Store) CreateProject(ctx context.Context, project *model.Project) error {
	return insertOne(ctx, s.col(ColProjects), project)
}

func (s *Store) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	return findOne[model.Project](ctx, s.col(ColProjects), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) UpdateProject(ctx context.Context, id, name, description string) error {
	return updateFields(ctx, s.col(ColProjects), id, bson.D{
		{Key: "name", Value: name},
		{Key: "description", Value: description},
		{Key: "updated_at", Value: time.Now()},
	})
}

// DeleteProject 删除项目并级联删除其成员关系
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if err := deleteByID(ctx, s.col(ColProjects), id); err != nil {
		return err
	}
	_, err := s.col(ColProjectMembers).DeleteMany(ctx, bson.D{{Key: "project_id", Value: id}})
	return wrapError(err)
}

// ListProjectsByUser 列出用户参与的全部项目（带用户角色与成员数）
func (s *Store) ListProjectsByUser(ctx context.Context, userID string) ([]*model.ProjectWithRole, error) {
	memberships, err := findMany[model.ProjectMember](ctx, s.col(ColProjectMembers),
		bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return nil, err
	}

	result := []*model.ProjectWithRole{}
	for _, m := range memberships {
		project, err := s.GetProjectByID(ctx, m.ProjectID)
		if err != nil {
			return nil, err
		}
		if project == nil {
			continue // 成员关系指向已删除的项目，跳过
		}
		count, err := s.col(ColProjectMembers).CountDocuments(ctx, bson.D{{Key: "project_id", Value: m.ProjectID}})
		if err != nil {
			return nil, wrapError(err)
		}
		result = append(result, &model.ProjectWithRole{
			Project: project,
			Role:    m.Role,
			Members: int(count),
		})
	}
	return result, nil
}

// ============================================================================
// ProjectMemberStore
// ============================================================================

// UpsertProjectMember 添加或更新成员关系（按 project_id+user_id 定位）
func (s *Store) UpsertProjectMember(ctx context.Context, member *model.ProjectMember) error {
	_, err := s.col(ColProjectMembers).UpdateOne(ctx,
		bson.D{
			{Key: "project_id", Value: member.ProjectID},
			{Key: "user_id", Value: member.UserID},
		},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "role", Value: member.Role},
				{Key: "updated_at", Value: time.Now()},
			}},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "_id", Value: member.ID},
				{Key: "project_id", Value: member.ProjectID},
				{Key: "user_id", Value: member.UserID},
				{Key: "created_at", Value: member.CreatedAt},
			}},
		},
		options.UpdateOne().SetUpsert(true))
	return wrapError(err)
}

func (s *Store) GetProjectMember(ctx context.Context, projectID, userID string) (*model.ProjectMember, error) {
	return findOne[model.ProjectMember](ctx, s.col(ColProjectMembers), bson.D{
		{Key: "project_id", Value: projectID},
		{Key: "user_id", Value: userID},
	})
}

func (s *Store) ListProjectMembers(ctx context.Context, projectID string) ([]*model.ProjectMember, error) {
	return findMany[model.ProjectMember](ctx, s.col(ColProjectMembers),
		bson.D{{Key: "project_id", Value: projectID}})
}

func (s *Store) UpdateProjectMemberRole(ctx context.Context, projectID, userID string, role model.MemberRole) error {
	matched, err := updateOne(ctx, s.col(ColProjectMembers),
		bson.D{
			{Key: "project_id", Value: projectID},
			{Key: "user_id", Value: userID},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "role", Value: role},
			{Key: "updated_at", Value: time.Now()},
		}}})
	if err != nil {
		return err
	}
	if !matched {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteProjectMember(ctx context.Context, projectID, userID string) error {
	res, err := s.col(ColProjectMembers).DeleteOne(ctx, bson.D{
		{Key: "project_id", Value: projectID},
		{Key: "user_id", Value: userID},
	})
	if err != nil {
		return wrapError(err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
