package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"schedsync/adapter/in/worker"
	"schedsync/config"
	"schedsync/internal/stream"
	"schedsync/pkg/logger"
)

type Worker struct {
	pool           *worker.Pool
	deps           *Dependencies
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	log            zerolog.Logger
	renewScheduler *worker.RenewScheduler
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logger.Init("schedsync-worker", cfg.LogLevel, cfg.Environment)

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	log := logger.L().With().Str("component", "worker").Logger()

	syncProcessor := worker.NewSyncProcessor(deps.SyncService, deps.Producer)
	handler := worker.NewHandler(syncProcessor)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.MaxWorkers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}
	pool := worker.NewPool(handler, poolConfig, log)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}

	if cfg.SchedulerEnabled && deps.Producer != nil {
		w.renewScheduler = worker.NewRenewScheduler(deps.ConnectionRepo, deps.Producer)
	}

	return w, cleanup, nil
}

func (w *Worker) Start() {
	w.pool.Start()

	if w.deps.Stream != nil {
		for _, streamName := range stream.AllStreams {
			if err := w.deps.Stream.CreateGroup(w.ctx, streamName); err != nil {
				w.log.Error().Err(err).Str("stream", streamName).Msg("failed to create consumer group")
			}
		}
		for _, streamName := range stream.AllStreams {
			w.wg.Add(1)
			go func(name string) {
				defer w.wg.Done()
				w.deps.Stream.Consume(w.ctx, name, w.deps.Config.WorkerID, w.handleJob)
			}(streamName)
		}
		w.log.Info().Int("streams", len(stream.AllStreams)).Msg("stream consumers started")
	} else {
		w.log.Warn().Msg("redis not available, worker will only process direct submissions")
	}

	if w.renewScheduler != nil {
		w.renewScheduler.Start()
	}

	<-w.ctx.Done()
}

// handleJob adapts a stream job to a pool message. Returning nil acks the
// stream entry; retries from here on are the pool's responsibility. A
// rejected submission returns an error so the entry stays pending and is
// redelivered.
func (w *Worker) handleJob(ctx context.Context, job *stream.Job) error {
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("malformed job payload")
		return nil
	}

	msg := worker.NewMessage(job.Type, payload)
	if job.ID != "" {
		msg.ID = job.ID
	}

	submitted := false
	if msg.IsPriority() {
		submitted = w.pool.SubmitPriority(msg)
	} else {
		submitted = w.pool.Submit(msg)
	}
	if !submitted {
		w.log.Warn().Str("job_id", msg.ID).Str("job_type", msg.Type).Msg("pool rejected job, leaving pending")
		return fmt.Errorf("submit job %s (%s): pool at capacity or stopped", msg.ID, msg.Type)
	}
	return nil
}

func (w *Worker) Stop() {
	w.cancel()

	if w.renewScheduler != nil {
		w.renewScheduler.Stop()
	}

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
