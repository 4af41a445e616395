package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
)

// JobRecorder keeps an audit trail of dispatched jobs.
type JobRecorder interface {
	CreateJob(ctx context.Context, job *JobRecord) error
	MarkJobRunning(ctx context.Context, id string) error
	MarkJobSucceeded(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id string, kind Kind, errMsg string) error
}

// Dispatcher admits at most one job per user and runs each admitted job in
// its own goroutine: build the user turn, complete, relay. A second message
// from a busy user is rejected with a notice, never queued.
type Dispatcher struct {
	store     *Store
	admission Admission
	builder   *HistoryBuilder
	gateway   *Gateway
	relay     *Relay
	jobs      JobRecorder
	log       zerolog.Logger

	wg sync.WaitGroup
}

type Option func(*Dispatcher)

// WithAdmission replaces the default per-process admission.
func WithAdmission(a Admission) Option {
	return func(d *Dispatcher) { d.admission = a }
}

func WithJobRecorder(r JobRecorder) Option {
	return func(d *Dispatcher) { d.jobs = r }
}

func NewDispatcher(store *Store, builder *HistoryBuilder, gateway *Gateway, relay *Relay, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		builder: builder,
		gateway: gateway,
		relay:   relay,
		log:     log,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.admission == nil {
		d.admission = NewLocalAdmission(store)
	}
	return d
}

// Dispatch admits ev or rejects it with ErrAdmissionRejected. An admitted
// job runs to completion independently of ctx's cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	release, err := d.admission.Acquire(ctx, ev.User.ID)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			metrics.AdmissionTotal.WithLabelValues("rejected").Inc()
			d.log.Info().Int64("user_id", ev.User.ID).Str("kind", ev.kind()).Msg("previous message still processing, rejected")
			d.relay.Notify(ctx, ev, NoticeBusy)
			return ErrAdmissionRejected
		}
		metrics.AdmissionTotal.WithLabelValues("error").Inc()
		d.log.Error().Err(err).Int64("user_id", ev.User.ID).Msg("admission failed")
		d.relay.Notify(ctx, ev, NoticeRetry)
		return fmt.Errorf("admission: %w", err)
	}
	metrics.AdmissionTotal.WithLabelValues("accepted").Inc()

	id, err := NewJobID()
	if err != nil {
		id = fmt.Sprintf("%d-%d", ev.User.ID, time.Now().UnixNano())
	}
	env := &Envelope{
		ID:         id,
		Event:      ev,
		Conv:       d.store.GetOrCreate(ctx, ev.User.ID),
		AcceptedAt: time.Now(),
	}
	d.recordQueued(ctx, env)

	d.wg.Add(1)
	metrics.InFlight.Inc()
	go d.run(context.WithoutCancel(ctx), env, release)
	return nil
}

// Wait blocks until every dispatched job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for in-flight jobs or gives up when ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, env *Envelope, release func()) {
	defer d.wg.Done()
	defer metrics.InFlight.Dec()
	defer release()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindUnknown, Err: fmt.Errorf("panic: %v", r)}
			d.log.Error().Str("job_id", env.ID).Interface("panic", r).Msg("pipeline panicked")
			d.fail(ctx, env, err)
		}
		d.finish(ctx, env, err)
	}()

	d.markRunning(ctx, env)

	var reply string
	reply, err = d.process(ctx, env)
	if err != nil {
		d.fail(ctx, env, err)
		return
	}
	d.relay.Deliver(ctx, env, reply)
}

func (d *Dispatcher) process(ctx context.Context, env *Envelope) (string, error) {
	cp, err := d.builder.AppendUserTurn(ctx, env.Conv, env.Event)
	if err != nil {
		return "", err
	}
	env.Checkpoint = &cp
	return d.gateway.Complete(ctx, env.Conv, env.userKey())
}

func (d *Dispatcher) fail(ctx context.Context, env *Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("job_id", env.ID).Interface("panic", r).Msg("relay panicked while handling failure")
		}
	}()
	d.relay.Fail(ctx, env, err)
}

func (d *Dispatcher) recordQueued(ctx context.Context, env *Envelope) {
	if d.jobs == nil {
		return
	}
	err := d.jobs.CreateJob(ctx, &JobRecord{
		ID:     env.ID,
		UserID: env.Event.User.ID,
		Kind:   env.Event.kind(),
		Status: JobQueued,
	})
	if err != nil {
		d.log.Warn().Err(err).Str("job_id", env.ID).Msg("failed to record job")
	}
}

func (d *Dispatcher) markRunning(ctx context.Context, env *Envelope) {
	if d.jobs == nil {
		return
	}
	if err := d.jobs.MarkJobRunning(ctx, env.ID); err != nil {
		d.log.Warn().Err(err).Str("job_id", env.ID).Msg("failed to mark job running")
	}
}

func (d *Dispatcher) finish(ctx context.Context, env *Envelope, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	metrics.JobsTotal.WithLabelValues(outcome).Inc()
	d.log.Debug().
		Str("job_id", env.ID).
		Int64("user_id", env.Event.User.ID).
		Str("outcome", outcome).
		Dur("cost", time.Since(env.AcceptedAt)).
		Msg("job finished")

	if d.jobs == nil {
		return
	}
	var recErr error
	if err != nil {
		recErr = d.jobs.MarkJobFailed(ctx, env.ID, KindOf(err), err.Error())
	} else {
		recErr = d.jobs.MarkJobSucceeded(ctx, env.ID)
	}
	if recErr != nil {
		d.log.Warn().Err(recErr).Str("job_id", env.ID).Msg("failed to update job status")
	}
}
