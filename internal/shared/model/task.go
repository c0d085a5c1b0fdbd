package model

import "time"

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// ValidTaskStatus 校验任务状态取值
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusDone:
		return true
	}
	return false
}

// Attachment 附件，Key 为对象存储中的对象键
type Attachment struct {
	URL      string `json:"url" bson:"url"`
	Key      string `json:"-" bson:"key"`
	MimeType string `json:"mimetype" bson:"mimetype"`
	Size     int64  `json:"size" bson:"size"`
}

// Task 任务
type Task struct {
	ID          string       `json:"id" bson:"_id"`
	ProjectID   string       `json:"project_id" bson:"project_id"`
	Title       string       `json:"title" bson:"title"`
	Description string       `json:"description" bson:"description"`
	Status      TaskStatus   `json:"status" bson:"status"`
	AssignedTo  string       `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`
	AssignedBy  string       `json:"assigned_by" bson:"assigned_by"`
	Attachments []Attachment `json:"attachments" bson:"attachments"`
	CreatedAt   time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" bson:"updated_at"`
}

// Subtask 子任务，归属于一个 Task
type Subtask struct {
	ID        string     `json:"id" bson:"_id"`
	TaskID    string     `json:"task_id" bson:"task_id"`
	Title     string     `json:"title" bson:"title"`
	Status    TaskStatus `json:"status" bson:"status"`
	CreatedBy string     `json:"created_by" bson:"created_by"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

// TaskWithSubtasks 任务详情：任务 + 子任务列表
type TaskWithSubtasks struct {
	*Task
	Subtasks []*Subtask `json:"subtasks"`
}
