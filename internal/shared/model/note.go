package model

import "time"

// ProjectNote 项目笔记，Pinned 置顶
type ProjectNote struct {
	ID          string       `json:"id" bson:"_id"`
	ProjectID   string       `json:"project_id" bson:"project_id"`
	CreatedBy   string       `json:"created_by" bson:"created_by"`
	Content     string       `json:"content" bson:"content"`
	Pinned      bool         `json:"pinned" bson:"pinned"`
	Attachments []Attachment `json:"attachments" bson:"attachments"`
	CreatedAt   time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" bson:"updated_at"`
}

// NoteComment 笔记评论
//
// ParentCommentID 非空时表示对另一条评论的回复（线程化）。
type NoteComment struct {
	ID              string    `json:"id" bson:"_id"`
	NoteID          string    `json:"note_id" bson:"note_id"`
	Content         string    `json:"content" bson:"content"`
	CreatedBy       string    `json:"created_by" bson:"created_by"`
	ParentCommentID string    `json:"parent_comment_id,omitempty" bson:"parent_comment_id,omitempty"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at"`
}
