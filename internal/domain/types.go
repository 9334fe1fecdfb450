package domain

import (
	"time"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// List is the aggregate root. Generation pointers are empty strings when unset.
type List struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	EntityType             string    `json:"entity_type"`
	Query                  string    `json:"query"`
	Version                int64     `json:"version"`
	InProgressGenerationID string    `json:"in_progress_generation_id,omitempty"`
	SuccessGenerationID    string    `json:"success_generation_id,omitempty"`
	FailureGenerationID    string    `json:"failure_generation_id,omitempty"`
	CreatedBy              string    `json:"created_by,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// StageTimings holds per-stage durations in milliseconds.
type StageTimings map[string]int64

const (
	StageQueueWait = "queue_wait"
	StageIngest    = "ingest"
	StageFinalize  = "finalize"
)

type RefreshGeneration struct {
	ID             string       `json:"id"`
	ListID         string       `json:"list_id"`
	Status         Status       `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	RecordCount    int64        `json:"record_count"`
	ContentVersion int64        `json:"content_version"`
	ErrorCode      string       `json:"error_code,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	QueryHash      string       `json:"query_hash,omitempty"`
	CreatedBy      string       `json:"created_by,omitempty"`
	Timings        StageTimings `json:"timings,omitempty"`
}

type ContentRow struct {
	ListID       string `json:"list_id"`
	GenerationID string `json:"generation_id"`
	ContentID    string `json:"content_id"`
	SortSeq      int64  `json:"sort_seq"`
}

type ExportJob struct {
	ID           string     `json:"id"`
	ListID       string     `json:"list_id"`
	GenerationID string     `json:"generation_id"`
	Fields       []string   `json:"fields"`
	Status       Status     `json:"status"`
	CreatedBy    string     `json:"created_by,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ObjectKey    string     `json:"object_key,omitempty"`
	UploadID     string     `json:"upload_id,omitempty"`
	PartCount    int        `json:"part_count"`
	RowCount     int64      `json:"row_count"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

type ColumnType string

const (
	ColumnTypeInt       ColumnType = "int"
	ColumnTypeBigInt    ColumnType = "bigint"
	ColumnTypeFloat     ColumnType = "float"
	ColumnTypeString    ColumnType = "string"
	ColumnTypeText      ColumnType = "text"
	ColumnTypeBool      ColumnType = "bool"
	ColumnTypeTimestamp ColumnType = "timestamp"
	ColumnTypeDate      ColumnType = "date"
	ColumnTypeUUID      ColumnType = "uuid"
)

// ColumnMeta describes one exportable column of an entity type.
type ColumnMeta struct {
	Name  string     `json:"name" yaml:"name"`
	Label string     `json:"label" yaml:"label"`
	Type  ColumnType `json:"type" yaml:"type"`
}

// EntityType is the column metadata of the content a list refers to. Columns are
// kept in the entity's native order.
type EntityType struct {
	Name          string       `json:"name" yaml:"name"`
	Table         string       `json:"table" yaml:"table"`
	IDColumn      string       `json:"id_column" yaml:"id_column"`
	DeletedColumn string       `json:"deleted_column,omitempty" yaml:"deleted_column,omitempty"`
	Columns       []ColumnMeta `json:"columns" yaml:"columns"`
}

func (e *EntityType) Column(name string) (ColumnMeta, bool) {
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

// Record is one content-lookup result.
type Record struct {
	ID      string
	Values  map[string]any
	Deleted bool
}

type CreateListRequest struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
	Query      string `json:"query"`
}

type ExportRequest struct {
	Fields []string `json:"fields"`
}

type ContentPage struct {
	ListID       string   `json:"list_id"`
	GenerationID string   `json:"generation_id"`
	ContentIDs   []string `json:"content_ids"`
	NextCursor   int64    `json:"next_cursor"`
	HasMore      bool     `json:"has_more"`
}
