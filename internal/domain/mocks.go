package domain

import (
	"context"
)

type MockGitLab struct {
	ProjectList        []Project
	PipelinesByProject map[int64][]Pipeline
	ProjectsErr        error
	PipelinesErr       error

	ProjectCalls  int
	PipelineCalls []int64
}

func (m *MockGitLab) Projects(ctx context.Context) ([]Project, error) {
	m.ProjectCalls++
	if m.ProjectsErr != nil {
		return nil, m.ProjectsErr
	}
	return m.ProjectList, nil
}

func (m *MockGitLab) ProjectPipelines(ctx context.Context, projectID int64) ([]Pipeline, error) {
	m.PipelineCalls = append(m.PipelineCalls, projectID)
	if m.PipelinesErr != nil {
		return nil, m.PipelinesErr
	}
	return m.PipelinesByProject[projectID], nil
}

type PublishedState struct {
	Projects  []Project
	Pipelines []Pipeline
	Summary   Summary
}

type MockSink struct {
	Published []PublishedState
	Errors    []string
}

func (s *MockSink) Publish(projects []Project, pipelines []Pipeline, summary Summary) {
	s.Published = append(s.Published, PublishedState{
		Projects: projects, Pipelines: pipelines, Summary: summary,
	})
}

func (s *MockSink) MarkError(msg string) {
	s.Errors = append(s.Errors, msg)
}

type MockCache struct {
	Data map[string][]byte
	Gets int
	Sets int
}

func (c *MockCache) Get(key string) ([]byte, bool) {
	c.Gets++
	v, ok := c.Data[key]
	return v, ok
}

func (c *MockCache) Set(key string, val []byte) {
	c.Sets++
	if c.Data == nil {
		c.Data = make(map[string][]byte)
	}
	c.Data[key] = val
}
