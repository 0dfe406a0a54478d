package delivery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/repository"
)

// Config tunes the delivery loop.
type Config struct {
	Interval          time.Duration
	BatchSize         int
	MaxConnectRetries int
	RetryBackoff      time.Duration
	SendTimeout       time.Duration
}

// Sender pushes undelivered detection records and health results to the
// collector. Delivery is at-least-once: a record's flag flips only
// after an accepted ack, so anything unacked is retried next cycle and
// the collector deduplicates on the envelope key.
type Sender struct {
	transport  Transport
	detections repository.DetectionRepository
	health     repository.HealthRepository
	cfg        Config
	log        zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	unreachable atomic.Bool
}

// NewSender builds a sender over a transport and the two repositories.
func NewSender(transport Transport, detections repository.DetectionRepository, health repository.HealthRepository, cfg Config, log zerolog.Logger) *Sender {
	return &Sender{
		transport:  transport,
		detections: detections,
		health:     health,
		cfg:        cfg,
		log:        log,
	}
}

// Start launches the delivery loop. Idempotent while running.
func (s *Sender) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(runCtx, s.done)
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("delivery loop started")
}

// Stop halts the loop, waits for the in-flight cycle and disconnects.
func (s *Sender) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	running := s.running
	s.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-done

	if err := s.transport.Disconnect(); err != nil {
		s.log.Debug().Err(err).Msg("disconnect on stop failed")
	}
	s.log.Info().Msg("delivery loop stopped")
}

// Healthy reports whether the collector was reachable on the most
// recent cycle. Consumed by the network health check.
func (s *Sender) Healthy() bool {
	return !s.unreachable.Load()
}

func (s *Sender) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.Warn().Err(err).Msg("delivery cycle failed, backlog retained")
			}
		}
	}
}

// Flush runs one delivery cycle: drain up to one batch of detections
// and one of health results, reconnecting as needed along the way. The
// cycle shares one bounded reconnect budget, so a flapping collector
// cannot keep it dialing forever. Callable directly for an on-demand
// push.
func (s *Sender) Flush(ctx context.Context) error {
	budget := s.cfg.MaxConnectRetries

	if err := s.flushDetections(ctx, &budget); err != nil {
		return err
	}
	return s.flushHealth(ctx, &budget)
}

// ensureConnected dials until connected or the cycle's reconnect budget
// runs out. An exhausted budget abandons the cycle and reports the
// collector unreachable until a later connect succeeds.
func (s *Sender) ensureConnected(ctx context.Context, budget *int) error {
	if s.transport.Connected() {
		return nil
	}

	var lastErr error
	for *budget > 0 {
		*budget--
		if err := s.transport.Connect(ctx); err != nil {
			lastErr = err
			s.log.Debug().Err(err).Int("budget_left", *budget).Msg("collector connect failed")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryBackoff):
			}
			continue
		}
		s.unreachable.Store(false)
		return nil
	}

	s.unreachable.Store(true)
	return fmt.Errorf("collector unreachable after %d attempts: %w", s.cfg.MaxConnectRetries, lastErr)
}

func (s *Sender) flushDetections(ctx context.Context, budget *int) error {
	records, err := s.detections.QueryUndelivered(s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("query undelivered detections: %w", err)
	}

	for i := range records {
		rec := &records[i]
		if err := s.ensureConnected(ctx, budget); err != nil {
			return err
		}
		ack, err := s.send(ctx, Envelope{Kind: KindDetection, Key: rec.UID, Payload: rec})
		if err != nil {
			// One failed send does not block the rest of the batch; the
			// record stays undelivered and the next iteration reconnects
			// if the wire went down.
			s.log.Warn().Err(err).Str("uid", rec.UID).
				Msg("detection send failed, moving on")
			continue
		}
		if !ack.Accepted {
			// Rejection is per record; the rest of the batch still goes.
			s.log.Warn().Str("uid", rec.UID).Str("reason", ack.Reason).
				Msg("collector rejected detection, will retry")
			continue
		}
		if err := s.detections.MarkDelivered(rec.ID, time.Now().UTC()); err != nil {
			// The collector has the record; the flag stays false so it
			// will be re-sent, and the key makes the duplicate harmless.
			s.log.Error().Err(err).Str("uid", rec.UID).
				Msg("failed to mark detection delivered")
		}
	}
	return nil
}

func (s *Sender) flushHealth(ctx context.Context, budget *int) error {
	results, err := s.health.QueryUndelivered(s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("query undelivered health results: %w", err)
	}

	for i := range results {
		res := &results[i]
		if err := s.ensureConnected(ctx, budget); err != nil {
			return err
		}
		key := fmt.Sprintf("health-%d", res.ID)
		ack, err := s.send(ctx, Envelope{Kind: KindHealth, Key: key, Payload: res})
		if err != nil {
			s.log.Warn().Err(err).Int64("id", res.ID).
				Msg("health result send failed, moving on")
			continue
		}
		if !ack.Accepted {
			s.log.Warn().Int64("id", res.ID).Str("reason", ack.Reason).
				Msg("collector rejected health result, will retry")
			continue
		}
		if err := s.health.MarkDelivered(res.ID, time.Now().UTC()); err != nil {
			s.log.Error().Err(err).Int64("id", res.ID).
				Msg("failed to mark health result delivered")
		}
	}
	return nil
}

func (s *Sender) send(ctx context.Context, env Envelope) (Ack, error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.transport.Send(sendCtx, env)
}
