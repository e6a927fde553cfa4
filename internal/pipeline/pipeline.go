package pipeline

import (
	"context"
	"fmt"

	"github.com/apexgw/apexgw/internal/observability"
)

// Verdict is the outcome of a stage's request-side handler.
type Verdict int

const (
	// Continue passes the request to the next stage.
	Continue Verdict = iota

	// ShortCircuit returns the stage's response immediately. Response-side
	// handlers of other stages do not run.
	ShortCircuit
)

// Stage is one middleware step. HandleRequest runs in registration order
// before forwarding; HandleResponse runs in reverse registration order
// after a successful forward.
type Stage interface {
	Name() string
	HandleRequest(ctx context.Context, rc *RequestContext) (Verdict, error)
	HandleResponse(ctx context.Context, rc *RequestContext) error
}

// Forwarder sends the request upstream and produces the response.
type Forwarder interface {
	Forward(ctx context.Context, rc *RequestContext) (*Response, error)
}

// Pipeline executes stages around a forwarder.
type Pipeline struct {
	stages    []Stage
	forwarder Forwarder
	logger    observability.Logger
}

// Option is a functional option for the pipeline.
type Option func(*Pipeline)

// WithPipelineLogger sets the logger for the pipeline.
func WithPipelineLogger(logger observability.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline around the given forwarder.
func New(forwarder Forwarder, opts ...Option) *Pipeline {
	p := &Pipeline{
		forwarder: forwarder,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Use appends stages in execution order.
func (p *Pipeline) Use(stages ...Stage) {
	p.stages = append(p.stages, stages...)
}

// Execute runs the request through all stages and the forwarder.
//
// A stage error aborts the pipeline and the request fails with that
// error. A short circuit returns the stage's response without forwarding
// and without running any response-side handlers. Response-side handler
// errors are logged and do not fail the already produced response.
func (p *Pipeline) Execute(ctx context.Context, rc *RequestContext) (*Response, error) {
	for _, stage := range p.stages {
		verdict, err := stage.HandleRequest(ctx, rc)
		if err != nil {
			p.logger.Debug("pipeline stage rejected request",
				observability.String("request_id", rc.ID),
				observability.String("stage", stage.Name()),
				observability.Error(err),
			)
			return nil, err
		}

		if verdict == ShortCircuit {
			if rc.Response == nil {
				return nil, fmt.Errorf("stage %s short-circuited without a response", stage.Name())
			}
			return rc.Response, nil
		}
	}

	resp, err := p.forwarder.Forward(ctx, rc)
	if err != nil {
		return nil, err
	}
	rc.Response = resp

	for i := len(p.stages) - 1; i >= 0; i-- {
		stage := p.stages[i]
		if err := stage.HandleResponse(ctx, rc); err != nil {
			p.logger.Warn("pipeline response handler failed",
				observability.String("request_id", rc.ID),
				observability.String("stage", stage.Name()),
				observability.Error(err),
			)
		}
	}

	return rc.Response, nil
}
