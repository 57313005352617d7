package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/tryon/internal/astria"
)

// MockClient satisfies astria.Client for testing. Calls are recorded.
type MockClient struct {
	SubmitFunc       func(ctx context.Context, req astria.SubmitRequest) (*astria.Submission, error)
	CreatePromptFunc func(ctx context.Context, tuneID string, req astria.PromptRequest) (*astria.Prompt, error)
	GetPromptFunc    func(ctx context.Context, tuneID, promptID string) (*astria.Prompt, error)

	mu      sync.Mutex
	submits []astria.SubmitRequest
}

func (m *MockClient) SubmitTune(ctx context.Context, req astria.SubmitRequest) (*astria.Submission, error) {
	m.mu.Lock()
	m.submits = append(m.submits, req)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return &astria.Submission{JobID: "job-1", Token: "token-1"}, nil
}

func (m *MockClient) CreatePrompt(ctx context.Context, tuneID string, req astria.PromptRequest) (*astria.Prompt, error) {
	if m.CreatePromptFunc != nil {
		return m.CreatePromptFunc(ctx, tuneID, req)
	}
	return &astria.Prompt{ID: "prompt-1"}, nil
}

func (m *MockClient) GetPrompt(ctx context.Context, tuneID, promptID string) (*astria.Prompt, error) {
	if m.GetPromptFunc != nil {
		return m.GetPromptFunc(ctx, tuneID, promptID)
	}
	return &astria.Prompt{ID: promptID, Images: []string{"https://cdn.example.com/render.png"}}, nil
}

// Submits returns a copy of every SubmitTune request received so far.
func (m *MockClient) Submits() []astria.SubmitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]astria.SubmitRequest, len(m.submits))
	copy(out, m.submits)
	return out
}

// NewMockClient returns a MockClient that acknowledges every submission with
// the given job id.
func NewMockClient(jobID string) *MockClient {
	return &MockClient{
		SubmitFunc: func(_ context.Context, _ astria.SubmitRequest) (*astria.Submission, error) {
			return &astria.Submission{JobID: jobID, Token: "token-" + jobID}, nil
		},
	}
}

// NewFailingClient returns a MockClient whose submissions always fail with err.
func NewFailingClient(err error) *MockClient {
	return &MockClient{
		SubmitFunc: func(_ context.Context, req astria.SubmitRequest) (*astria.Submission, error) {
			return nil, fmt.Errorf("submit %s: %w", req.Title, err)
		},
	}
}

var _ astria.Client = (*MockClient)(nil)
