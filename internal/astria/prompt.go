package astria

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// PromptRequest asks a trained tune to render an image.
type PromptRequest struct {
	Text       string
	InputImage string
	NumImages  int
}

// Prompt is a render job. Images stays empty until rendering finishes.
type Prompt struct {
	ID     string
	Images []string
}

type promptPayload struct {
	Prompt promptBody `json:"prompt"`
}

type promptBody struct {
	Text       string `json:"text"`
	InputImage string `json:"input_image,omitempty"`
	NumImages  int    `json:"num_images"`
}

type promptResponse struct {
	ID     flexID   `json:"id"`
	Images []string `json:"images"`
}

func (c *HTTPClient) CreatePrompt(ctx context.Context, tuneID string, req PromptRequest) (*Prompt, error) {
	if tuneID == "" || req.Text == "" {
		return nil, fmt.Errorf("%w: tune id and prompt text are required", ErrInvalidRequest)
	}
	n := req.NumImages
	if n <= 0 {
		n = 1
	}
	payload, err := json.Marshal(promptPayload{Prompt: promptBody{
		Text:       req.Text,
		InputImage: req.InputImage,
		NumImages:  n,
	}})
	if err != nil {
		return nil, fmt.Errorf("encoding prompt request: %w", err)
	}

	var out promptResponse
	path := "/tunes/" + url.PathEscape(tuneID) + "/prompts"
	op := func() error {
		return c.do(ctx, "create_prompt", http.MethodPost, path, payload, &out)
	}
	if err := c.retry(ctx, op); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: response carried no prompt id", ErrServiceUnavailable)
	}
	return &Prompt{ID: string(out.ID), Images: out.Images}, nil
}

// GetPrompt fetches a render job once, without retrying.
func (c *HTTPClient) GetPrompt(ctx context.Context, tuneID, promptID string) (*Prompt, error) {
	var out promptResponse
	path := "/tunes/" + url.PathEscape(tuneID) + "/prompts/" + url.PathEscape(promptID)
	if err := c.do(ctx, "get_prompt", http.MethodGet, path, nil, &out); err != nil {
		return nil, unwrapPermanent(err)
	}
	return &Prompt{ID: string(out.ID), Images: out.Images}, nil
}
