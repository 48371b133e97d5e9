package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/bridges/cast"
)

const (
	defaultRecorderQueue = 128
	writeTimeout         = 2 * time.Second
)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder writes cast instruction outcomes to a Repository off the
// caller's goroutine. It implements cast.Recorder.
type Recorder struct {
	repo    Repository
	logger  Logger
	queue   chan Entry
	dropped atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder starts the writer goroutine. Call Close to flush.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan Entry, defaultRecorderQueue),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record implements cast.Recorder. Records are dropped when the queue is
// full.
func (r *Recorder) Record(rec cast.InstructionRecord) {
	e := Entry{
		InstructionID: rec.ID,
		DeviceID:      string(rec.DeviceID),
		Instruction:   rec.Instruction,
		Parameters:    rec.Parameters,
		Outcome:       string(rec.Outcome),
		Source:        rec.Source,
		CreatedAt:     rec.At,
	}
	if rec.Err != nil {
		e.Error = rec.Err.Error()
	}

	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
		if r.logger != nil {
			r.logger.Warn("instruction log queue full", "instruction_id", rec.ID)
		}
	}
}

// Dropped returns how many records were discarded.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close writes what is queued and stops the writer.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.done:
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil && r.logger != nil {
		r.logger.Error("writing instruction log", "instruction_id", e.InstructionID, "error", err)
	}
}
