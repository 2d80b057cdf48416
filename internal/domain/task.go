package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// MediaType enumerates the kinds of output a generation task produces.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeMusic MediaType = "music"
)

// Valid reports whether m is one of the supported media types.
func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeImage, MediaTypeVideo, MediaTypeMusic:
		return true
	default:
		return false
	}
}

// ParseMediaType normalizes free-form input into a MediaType. The second
// return value is false when the input does not name a supported type.
func ParseMediaType(s string) (MediaType, bool) {
	m := MediaType(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Valid()
}

// TaskStatus enumerates the lifecycle states of a generation task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusSucceeded  TaskStatus = "SUCCEEDED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Valid reports whether s is one of the five known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// NeedsRefund reports whether reaching s releases the credits held for a task.
func (s TaskStatus) NeedsRefund() bool {
	return s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransition reports whether a stored status may be replaced by next.
// Terminal states are final and a task never moves back to PENDING once
// processing has been observed.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if s == TaskStatusProcessing && next == TaskStatusPending {
		return false
	}
	return true
}

// ProviderName identifies a configured AI vendor.
type ProviderName string

const (
	ProviderKie       ProviderName = "kie"
	ProviderReplicate ProviderName = "replicate"
	ProviderFal       ProviderName = "fal"
	ProviderDashScope ProviderName = "dashscope"
)

// KnownProviders lists every vendor the core ships an adapter for.
var KnownProviders = []ProviderName{ProviderKie, ProviderReplicate, ProviderFal, ProviderDashScope}

// Task is one asynchronous generation job submitted to an external provider.
type Task struct {
	ID             string
	UserID         string
	Provider       ProviderName
	ExternalTaskID string
	MediaType      MediaType
	Model          string
	Status         TaskStatus
	Params         json.RawMessage
	TaskInfo       json.RawMessage
	TaskResult     json.RawMessage
	CreditID       string
	CreditAmount   int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of the task so callers can mutate it freely.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Params = cloneRaw(t.Params)
	c.TaskInfo = cloneRaw(t.TaskInfo)
	c.TaskResult = cloneRaw(t.TaskResult)
	return &c
}

// Asset is one entry of a normalized task result.
type Asset struct {
	URL      string         `json:"url"`
	Kind     string         `json:"kind"`
	MIME     string         `json:"mime,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskResult is the normalized output stored for a succeeded task.
type TaskResult struct {
	Assets   []Asset        `json:"assets"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AssetKindFor maps a media type to the kind recorded on its assets.
func AssetKindFor(m MediaType) string {
	if m == MediaTypeMusic {
		return "audio"
	}
	return string(m)
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
