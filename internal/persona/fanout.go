package persona

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/synthtutor/internal/domain"
	"github.com/ashureev/synthtutor/internal/traits"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of candidates requested per tutor turn.
const DefaultBatchSize = 3

var (
	tracer = otel.Tracer("synthtutor/persona")
	meter  = otel.GetMeterProvider().Meter("synthtutor/persona")
)

// Requester issues one persona-generation call. *Client implements it.
type Requester interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

var _ Requester = (*Client)(nil)

// FanOut produces a batch of candidate replies for the latest tutor turn.
type FanOut struct {
	requester Requester
	traits    *traits.Generator
	size      int
	window    int
	logger    *slog.Logger
}

// FanOutOption configures a FanOut.
type FanOutOption func(*FanOut)

// WithBatchSize sets how many candidates are requested.
func WithBatchSize(n int) FanOutOption {
	return func(f *FanOut) {
		if n > 0 {
			f.size = n
		}
	}
}

// WithWindowSize sets how many context messages accompany the question.
func WithWindowSize(n int) FanOutOption {
	return func(f *FanOut) {
		if n >= 0 {
			f.window = n
		}
	}
}

// WithFanOutLogger sets the logger.
func WithFanOutLogger(l *slog.Logger) FanOutOption {
	return func(f *FanOut) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFanOut creates a FanOut. A nil generator uses a time-seeded one.
func NewFanOut(r Requester, g *traits.Generator, opts ...FanOutOption) *FanOut {
	if g == nil {
		g = traits.NewGenerator()
	}
	f := &FanOut{
		requester: r,
		traits:    g,
		size:      DefaultBatchSize,
		window:    DefaultWindowSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Generate requests one reply per distinct profile concurrently and waits
// for all of them. Any single failure fails the batch. Replies missing a
// name or text are dropped; if none remain the batch fails with
// ErrNoCandidates. Candidates keep the order their requests were issued in.
func (f *FanOut) Generate(ctx context.Context, messages []domain.Message) ([]domain.Candidate, error) {
	ctx, span := tracer.Start(ctx, "persona.fanout")
	defer span.End()

	candidates, err := f.generate(ctx, messages)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("persona.batch_size", f.size),
		attribute.Int("persona.candidates", len(candidates)),
	)
	if counter, cerr := meter.Int64Counter("persona.fanout.batches"); cerr == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return candidates, err
}

func (f *FanOut) generate(ctx context.Context, messages []domain.Message) ([]domain.Candidate, error) {
	w, ok := Window(messages, f.window)
	if !ok {
		return nil, ErrNoQuestion
	}

	profiles, err := f.traits.Batch(f.size)
	if err != nil {
		return nil, fmt.Errorf("build trait profiles: %w", err)
	}

	replies := make([]Reply, len(profiles))
	// Plain group: siblings run to completion even after one fails.
	var g errgroup.Group
	for i, p := range profiles {
		req := BuildRequest(p, w)
		g.Go(func() error {
			reply, err := f.requester.Generate(ctx, req)
			if err != nil {
				return fmt.Errorf("persona request %d (dominant %s): %w", i, p.Dominant, err)
			}
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(replies))
	for _, r := range replies {
		c := r.Candidate()
		if !c.Valid() {
			f.logger.Debug("dropping invalid persona reply", "name", r.Name, "response_length", len(r.Response))
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return candidates, nil
}
