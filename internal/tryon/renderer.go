package tryon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/tryon/internal/astria"
	"github.com/kiranshivaraju/tryon/internal/config"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// Job is everything a renderer needs to produce one try-on image. Model is
// nil when the caller did not pick one.
type Job struct {
	Product *models.Product
	Model   *models.TuningRecord
	Size    string
	Color   string
}

// Renderer produces a composite try-on image and returns its URL.
type Renderer interface {
	Render(ctx context.Context, job Job) (string, error)
	Name() string
}

// NewRenderer creates a Renderer based on the configured name.
func NewRenderer(cfg config.TryOnConfig, client astria.Client) (Renderer, error) {
	switch cfg.Renderer {
	case "simulated", "":
		return SimulatedRenderer{}, nil
	case "astria":
		return NewAstriaRenderer(client, cfg.RenderTimeout, 0), nil
	default:
		return nil, fmt.Errorf("unknown renderer: %s", cfg.Renderer)
	}
}

// SimulatedRenderer returns the product's on-model photo, or its main photo
// when it has none.
type SimulatedRenderer struct{}

func (SimulatedRenderer) Name() string { return "simulated" }

func (SimulatedRenderer) Render(_ context.Context, job Job) (string, error) {
	if job.Product.ModelImageURL != nil && *job.Product.ModelImageURL != "" {
		return *job.Product.ModelImageURL, nil
	}
	if job.Product.MainImageURL != "" {
		return job.Product.MainImageURL, nil
	}
	return "", errors.New("product has no image to show")
}

// errPromptPending marks a poll that found no images yet.
var errPromptPending = errors.New("prompt still rendering")

const defaultClassToken = "ohwx"

// AstriaRenderer prompts the selected identity tune to render the person
// wearing the product, then polls until the image appears.
type AstriaRenderer struct {
	client       astria.Client
	timeout      time.Duration
	pollInterval time.Duration
}

// NewAstriaRenderer creates an AstriaRenderer. A zero pollInterval selects
// the default of two seconds.
func NewAstriaRenderer(client astria.Client, timeout, pollInterval time.Duration) *AstriaRenderer {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &AstriaRenderer{client: client, timeout: timeout, pollInterval: pollInterval}
}

func (r *AstriaRenderer) Name() string { return "astria" }

func (r *AstriaRenderer) Render(ctx context.Context, job Job) (string, error) {
	if job.Model == nil || job.Model.ExternalJobID == nil {
		return "", errors.New("rendering requires a trained model")
	}
	tuneID := *job.Model.ExternalJobID

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt, err := r.client.CreatePrompt(ctx, tuneID, astria.PromptRequest{
		Text:       promptText(job),
		InputImage: job.Product.MainImageURL,
		NumImages:  1,
	})
	if err != nil {
		return "", fmt.Errorf("creating prompt: %w", err)
	}
	if len(prompt.Images) > 0 {
		return prompt.Images[0], nil
	}

	var url string
	poll := func() error {
		p, err := r.client.GetPrompt(ctx, tuneID, prompt.ID)
		if errors.Is(err, astria.ErrInvalidRequest) {
			return back.Permanent(err)
		}
		if err != nil {
			slog.Warn("polling prompt failed", "tune_id", tuneID, "prompt_id", prompt.ID, "error", err)
			return err
		}
		if len(p.Images) == 0 {
			return errPromptPending
		}
		url = p.Images[0]
		return nil
	}
	if err := back.Retry(poll, back.WithContext(r.backoff(), ctx)); err != nil {
		if ctx.Err() != nil || errors.Is(err, errPromptPending) {
			return "", fmt.Errorf("%w: render timed out after %s", astria.ErrServiceUnavailable, r.timeout)
		}
		return "", fmt.Errorf("polling prompt %s: %w", prompt.ID, err)
	}
	return url, nil
}

func (r *AstriaRenderer) backoff() back.BackOff {
	b := back.NewExponentialBackOff()
	b.InitialInterval = r.pollInterval
	b.MaxInterval = 4 * r.pollInterval
	b.MaxElapsedTime = r.timeout
	return b
}

func promptText(job Job) string {
	token := defaultClassToken
	if job.Model.ExternalToken != nil && *job.Model.ExternalToken != "" {
		token = *job.Model.ExternalToken
	}

	garment := job.Product.Name
	if job.Color != "" {
		garment = job.Color + " " + garment
	}
	parts := []string{fmt.Sprintf("photo of %s person wearing %s", token, garment)}
	if job.Product.Brand != "" {
		parts = append(parts, "by "+job.Product.Brand)
	}
	if job.Size != "" {
		parts = append(parts, "size "+job.Size)
	}
	return strings.Join(parts, ", ")
}
