package domain

import "time"

type PipelineStatus string

const (
	StatusSuccess   PipelineStatus = "success"
	StatusFailed    PipelineStatus = "failed"
	StatusRunning   PipelineStatus = "running"
	StatusPending   PipelineStatus = "pending"
	StatusSkipped   PipelineStatus = "skipped"
	StatusManual    PipelineStatus = "manual"
	StatusCanceled  PipelineStatus = "canceled"
	StatusCancelled PipelineStatus = "cancelled"
	StatusUnknown   PipelineStatus = "unknown"
)

func ParseStatus(s string) PipelineStatus {
	switch PipelineStatus(s) {
	case StatusSuccess, StatusFailed, StatusRunning, StatusPending,
		StatusSkipped, StatusManual, StatusCanceled, StatusCancelled:
		return PipelineStatus(s)
	default:
		return StatusUnknown
	}
}

type FailureDomain string

const (
	FailureInfra        FailureDomain = "infra"
	FailureCode         FailureDomain = "code"
	FailureUnknown      FailureDomain = "unknown"
	FailureUnclassified FailureDomain = "unclassified"
)

type ServiceStatus string

const (
	ServiceInitializing ServiceStatus = "initializing"
	ServiceOnline       ServiceStatus = "online"
	ServiceError        ServiceStatus = "error"
)

// Pipeline is a read-only fact as fetched from the upstream API.
// Enrichment derives project-level aggregates from pipelines but never
// mutates one after it has been mapped at the ingestion boundary.
type Pipeline struct {
	ID                      int64          `json:"id"`
	ProjectID               int64          `json:"project_id"`
	Status                  PipelineStatus `json:"status"`
	Ref                     string         `json:"ref"`
	SHA                     string         `json:"sha"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
	Duration                *int64         `json:"duration"`
	FailureDomain           FailureDomain  `json:"failure_domain,omitempty"`
	ClassificationAttempted bool           `json:"classification_attempted"`
}

// PipelineFacts is the per-project summary of the most recent
// default-branch pipeline, attached by enrichment for the read path.
// Each field is independently nullable.
type PipelineFacts struct {
	Status    *PipelineStatus `json:"status"`
	Ref       *string         `json:"ref"`
	Duration  *int64          `json:"duration"`
	UpdatedAt *time.Time      `json:"updated_at"`
}

type Project struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DefaultBranch  string    `json:"default_branch,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// Derived fields, present after enrichment.
	ConsecutiveFailures int            `json:"consecutive_default_branch_failures"`
	SuccessRate         *float64       `json:"recent_success_rate"`
	LastDefaultPipeline *PipelineFacts `json:"last_default_branch_pipeline"`
}

type Summary struct {
	TotalProjects  int                    `json:"total_projects"`
	ActiveProjects int                    `json:"active_projects"`
	StatusCounts   map[PipelineStatus]int `json:"status_counts"`
	SuccessCount   int                    `json:"success_count"`
	FailedCount    int                    `json:"failed_count"`
	RunningCount   int                    `json:"running_count"`
}

// StateSnapshot is one atomically-published view of the world. Projects,
// pipelines and summary always originate from the same ingestion cycle.
type StateSnapshot struct {
	Projects    []Project     `json:"projects"`
	Pipelines   []Pipeline    `json:"pipelines"`
	Summary     Summary       `json:"summary"`
	LastUpdated *time.Time    `json:"last_updated"`
	Status      ServiceStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
}
