package worker

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gramforge/internal/queue"
)

// State is a job's position in the compile/heal state machine.
type State string

const (
	StatePending       State = "PENDING"
	StateCompiling     State = "COMPILING"
	StateCompileFailed State = "COMPILE_FAILED"
	StateHealing       State = "HEALING"
	StateRecompiling   State = "RECOMPILING"
	StateSuccess       State = "SUCCESS"
	StateFinalFailure  State = "FINAL_FAILURE"
)

// Terminal reports whether s ends a job.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFinalFailure
}

// Outcome is the result of processing one job.
type Outcome struct {
	JobID string
	Type  queue.JobType
	Lang  string
	State State
	// Succeeded and Failed count languages in the last compile pass.
	Succeeded int
	Failed    int
	Healed    []string
	// Trail lists every state the job passed through.
	Trail []State
	Err   error
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trail = append(o.Trail, s)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (o Outcome) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("job_id", o.JobID)
	enc.AddString("type", string(o.Type))
	if o.Lang != "" {
		enc.AddString("lang", o.Lang)
	}
	enc.AddString("state", string(o.State))
	enc.AddInt("succeeded", o.Succeeded)
	enc.AddInt("failed", o.Failed)
	if len(o.Healed) > 0 {
		_ = enc.AddArray("healed", zapcore.ArrayMarshalerFunc(func(ae zapcore.ArrayEncoder) error {
			for _, h := range o.Healed {
				ae.AppendString(h)
			}
			return nil
		}))
	}
	if o.Err != nil {
		enc.AddString("error", o.Err.Error())
	}
	return nil
}

var _ zapcore.ObjectMarshaler = Outcome{}

func outcomeField(o Outcome) zap.Field {
	return zap.Object("outcome", o)
}
