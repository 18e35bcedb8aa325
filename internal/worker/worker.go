// Package worker implements the Worker pool spec.md §1 describes as the
// consumer of C2 submissions: it dequeues an invocation envelope, uses the
// Plugin Registry and Hot Loader (C3+C4) to obtain a fresh plugin, then the
// Plugin Invoker (C5) to execute it, and records the terminal status back
// onto the broker.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskbeat/taskbeat/internal/broker"
	"github.com/taskbeat/taskbeat/internal/invoker"
)

// Dequeuer is the subset of broker.RedisGateway a Pool consumes from.
type Dequeuer interface {
	Dequeue(ctx context.Context, queues []string, blockTimeout time.Duration) (*broker.Envelope, error)
	CompleteSubmission(ctx context.Context, submissionID string, status broker.Status) error
}

// Pool runs Concurrency goroutines pulling from Queues and executing
// through Invoker, until its context is canceled.
type Pool struct {
	Dequeuer    Dequeuer
	Invoker     *invoker.Invoker
	Queues      []string
	Concurrency int
	Log         *logrus.Entry
}

// Run blocks until ctx is canceled, running Concurrency worker goroutines.
func (p *Pool) Run(ctx context.Context) {
	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		env, err := p.Dequeuer.Dequeue(ctx, p.Queues, 5*time.Second)
		if err != nil {
			if p.Log != nil {
				p.Log.WithError(err).Warn("worker: dequeue failed")
			}
			continue
		}
		if env == nil {
			continue // block timeout, nothing queued
		}

		p.execute(ctx, env)
	}
}

func (p *Pool) execute(ctx context.Context, env *broker.Envelope) {
	pluginName := ""
	if len(env.Args) > 0 {
		pluginName = env.Args[0]
	}

	result, err := p.Invoker.Execute(ctx, pluginName, env.Kwargs)

	status := broker.StatusSuccess
	if err != nil || result.Status == invoker.StatusError {
		status = broker.StatusFailure
		if p.Log != nil {
			p.Log.WithField("plugin", pluginName).WithError(err).Warn("worker: plugin execution failed")
		}
	}

	if completeErr := p.Dequeuer.CompleteSubmission(ctx, env.SubmissionID, status); completeErr != nil && p.Log != nil {
		p.Log.WithError(completeErr).Warn("worker: failed to record completion")
	}
}
