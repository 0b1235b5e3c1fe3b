package domain

import "context"

type GitlabClient interface {
	Projects(ctx context.Context) ([]Project, error)
	ProjectPipelines(ctx context.Context, projectID int64) ([]Pipeline, error)
}

type StateSink interface {
	Publish(projects []Project, pipelines []Pipeline, summary Summary)
	MarkError(msg string)
}

// DataCache is the short-lived response memo used by the read path.
type DataCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte)
}
