package cast

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SessionLookup finds the active session for a device. *Registry
// satisfies it.
type SessionLookup interface {
	Lookup(id DeviceID) (*Session, bool)
}

// InstructionRecord describes one replied instruction.
type InstructionRecord struct {
	ID          string
	DeviceID    DeviceID
	Instruction string
	Parameters  map[string]any
	Source      string
	Outcome     Outcome
	Err         error
	Latency     time.Duration
	At          time.Time
}

// Recorder observes instruction outcomes (audit log, telemetry).
type Recorder interface {
	Record(rec InstructionRecord)
}

// Router dispatches instructions to sessions.
type Router struct {
	sessions  SessionLookup
	recorders []Recorder
	logger    Logger
}

// NewRouter creates a Router over sessions. Recorders see every reply.
func NewRouter(sessions SessionLookup, logger Logger, recorders ...Recorder) (*Router, error) {
	if sessions == nil {
		return nil, errors.New("cast: router requires a session lookup")
	}
	return &Router{
		sessions:  sessions,
		recorders: recorders,
		logger:    logger,
	}, nil
}

// Route delivers in to its session. An instruction for a device without an
// active session is replied not_found; it never affects other sessions.
func (r *Router) Route(in Instruction) {
	in.Reply = r.wrapReply(in, time.Now())

	sess, ok := r.sessions.Lookup(in.DeviceID)
	if !ok {
		if r.logger != nil {
			r.logger.Warn("instruction for unknown device",
				"device_id", in.DeviceID,
				"instruction_id", in.ID,
			)
		}
		in.reply(Result{
			Outcome: OutcomeNotFound,
			Err:     fmt.Errorf("%w: %s", ErrDeviceNotFound, in.DeviceID),
		})
		return
	}
	sess.HandleInstruction(in)
}

// wrapReply makes the reply path fire once and notifies the recorders
// before the original reply.
func (r *Router) wrapReply(in Instruction, started time.Time) func(Result) {
	reply := in.Reply
	var once sync.Once
	return func(res Result) {
		once.Do(func() {
			if len(r.recorders) > 0 {
				rec := InstructionRecord{
					ID:       in.ID,
					DeviceID: in.DeviceID,
					Source:   in.Source,
					Outcome:  res.Outcome,
					Err:      res.Err,
					Latency:  time.Since(started),
					At:       time.Now().UTC(),
				}
				if in.Payload != nil {
					rec.Instruction = in.Payload.Tag()
					rec.Parameters = in.Payload.Params()
				}
				for _, rc := range r.recorders {
					rc.Record(rec)
				}
			}
			if reply != nil {
				reply(res)
			}
		})
	}
}
