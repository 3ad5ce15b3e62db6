package pipeline

import (
	"log/slog"

	"github.com/gusmmm/theparser/internal/plan"
)

// Status classifies the outcome of one stage for one subject.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome is the result of one stage for one subject.
type Outcome struct {
	Subject string     `json:"subject"`
	Stage   plan.Stage `json:"stage"`
	Status  Status     `json:"status"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
	Err     error      `json:"-"`
}

func ok(id string, st plan.Stage, msg string) Outcome {
	return Outcome{Subject: id, Stage: st, Status: StatusOK, Message: msg}
}

func warning(id string, st plan.Stage, msg string, err error) Outcome {
	o := Outcome{Subject: id, Stage: st, Status: StatusWarning, Message: msg, Err: err}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func failed(id string, st plan.Stage, err error) Outcome {
	return Outcome{Subject: id, Stage: st, Status: StatusFailed, Message: "stage failed", Err: err, Error: err.Error()}
}

func skipped(id string, st plan.Stage, msg string) Outcome {
	return Outcome{Subject: id, Stage: st, Status: StatusSkipped, Message: msg}
}

// LogValue lets an Outcome be logged as a group.
func (o Outcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("subject_id", o.Subject),
		slog.String("stage", string(o.Stage)),
		slog.String("status", string(o.Status)),
	}
	if o.Error != "" {
		attrs = append(attrs, slog.String("error", o.Error))
	}
	return slog.GroupValue(attrs...)
}

// Summary is everything one Run produced, ordered by subject then stage.
type Summary struct {
	Outcomes []Outcome      `json:"outcomes"`
	Counts   map[Status]int `json:"counts"`
}

// Failed lists subjects with at least one failed stage.
func (s Summary) Failed() []string {
	var out []string
	seen := make(map[string]bool)
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed && !seen[o.Subject] {
			seen[o.Subject] = true
			out = append(out, o.Subject)
		}
	}
	return out
}

// Lookup returns the outcome for a subject and stage.
func (s Summary) Lookup(id string, st plan.Stage) (Outcome, bool) {
	for _, o := range s.Outcomes {
		if o.Subject == id && o.Stage == st {
			return o, true
		}
	}
	return Outcome{}, false
}
