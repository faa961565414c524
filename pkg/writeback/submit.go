package writeback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"datamakelaar/pkg/vip"

	log "github.com/sirupsen/logrus"
)

// Updater is the part of the VIP client the submitter needs.
type Updater interface {
	UpdateObjects(ctx context.Context, objects []vip.Object) ([]vip.ObjectResult, error)
	UpsertObjects(ctx context.Context, objects []vip.Object) ([]vip.ObjectResult, error)
}

const (
	DefaultBatchSize  = 100
	DefaultMaxRetries = 3
	DefaultPause      = 2 * time.Second
)

type Submitter struct {
	Updater    Updater
	BatchSize  int
	MaxRetries int
	// Pause is multiplied by the attempt number between retries.
	Pause time.Duration
	// Upsert creates objects VIP does not know yet instead of failing them.
	Upsert bool
	// Progress, when set, is called after every completed batch.
	Progress func(done, total int)

	sleep func(context.Context, time.Duration) error
}

func NewSubmitter(u Updater, batchSize, maxRetries int) *Submitter {
	return &Submitter{Updater: u, BatchSize: batchSize, MaxRetries: maxRetries, Pause: DefaultPause}
}

type Failure struct {
	Batch      int    `json:"batch"`
	Identifier string `json:"identifier,omitempty"`
	Message    string `json:"message"`
}

type Result struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Failed    int       `json:"failed"`
	Batches   int       `json:"batches"`
	Failures  []Failure `json:"failures"`
	// Aborted is set when a batch failed after all retries or the context
	// was cancelled; later batches were not sent.
	Aborted bool `json:"aborted"`
}

// Submit sends objects in batches and stops at the first batch that still
// fails after its retries. The returned error is non-nil exactly when the
// run was aborted.
func (s *Submitter) Submit(ctx context.Context, objects []vip.Object) (*Result, error) {
	size := s.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	attempts := s.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = pause
	}

	res := &Result{Total: len(objects), Failures: []Failure{}}
	log.WithField("upsert", s.Upsert).Infof("Updating %d object(s) in batches of %d", len(objects), size)

	for start := 0; start < len(objects); start += size {
		end := start + size
		if end > len(objects) {
			end = len(objects)
		}
		batch := objects[start:end]
		number := start/size + 1

		if err := ctx.Err(); err != nil {
			res.Aborted = true
			return res, fmt.Errorf("stopped before batch %d: %w", number, err)
		}

		results, err := s.send(ctx, sleep, number, attempts, batch)
		if err != nil {
			res.Aborted = true
			res.Failed += len(batch)
			res.Failures = append(res.Failures, Failure{Batch: number, Message: err.Error()})
			log.Errorf("Batch %d failed after %d attempt(s): %v", number, attempts, err)
			return res, fmt.Errorf("batch %d: %w", number, err)
		}
		res.Batches++
		s.record(res, number, batch, results)
		if s.Progress != nil {
			s.Progress(end, len(objects))
		}
	}
	log.WithFields(log.Fields{
		"succeeded": res.Succeeded,
		"created":   res.Created,
		"updated":   res.Updated,
		"failed":    res.Failed,
		"batches":   res.Batches,
	}).Info("All batches submitted")
	return res, nil
}

func (s *Submitter) send(ctx context.Context, sleep func(context.Context, time.Duration) error, number, attempts int, batch []vip.Object) ([]vip.ObjectResult, error) {
	update := s.Updater.UpdateObjects
	if s.Upsert {
		update = s.Updater.UpsertObjects
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		results, err := update(ctx, batch)
		if err == nil {
			log.Infof("Batch %d updated on attempt %d", number, attempt)
			return results, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		log.Warnf("Batch %d attempt %d failed: %v", number, attempt, err)
		if attempt < attempts {
			if err := sleep(ctx, s.Pause*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// record counts per-object outcomes. Objects missing from the results are
// taken as updated.
func (s *Submitter) record(res *Result, number int, batch []vip.Object, results []vip.ObjectResult) {
	failed := map[string]string{}
	created := map[string]bool{}
	for _, r := range results {
		switch {
		case !r.Success:
			failed[r.Identifier] = r.Message
		case r.IsCreation:
			created[r.Identifier] = true
		}
	}
	for _, o := range batch {
		msg, ok := failed[o.Identifier]
		if !ok {
			res.Succeeded++
			if created[o.Identifier] {
				res.Created++
			} else {
				res.Updated++
			}
			continue
		}
		res.Failed++
		res.Failures = append(res.Failures, Failure{Batch: number, Identifier: o.Identifier, Message: msg})
		log.WithFields(log.Fields{"identifier": o.Identifier, "batch": number}).Warnf("Object not updated: %s", msg)
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
