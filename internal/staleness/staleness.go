// Package staleness decides whether a subject's source files changed since
// its last recorded parse.
package staleness

import (
	"sort"

	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/hasher"
	"github.com/gusmmm/theparser/internal/subject"
)

// Report explains a staleness decision.
type Report struct {
	// Parsed is false when the log holds no parse event; such a subject is
	// unparsed, never stale.
	Parsed  bool     `json:"parsed"`
	Stale   bool     `json:"stale"`
	Changed []string `json:"changed,omitempty"` // recorded, digest differs (or is the sentinel)
	Added   []string `json:"added,omitempty"`   // present now, not recorded
	Removed []string `json:"removed,omitempty"` // recorded, no longer present
}

// Detector compares current digests with the last parse event.
type Detector struct {
	// DetectRemoved makes a recorded file that is no longer present count as
	// a change. Off by default: removal alone does not make a subject stale.
	DetectRemoved bool
}

// IsStale reports whether any current source differs from, or is missing
// from, the most recent parse event in log.
func IsStale(log *eventlog.Log, sources []subject.SourceFile) bool {
	return Detector{}.Check(log, sources).Stale
}

// Check compares sources against the most recent parse event in log. Sources
// are always re-hashed, with the algorithm recorded in that event.
func (d Detector) Check(log *eventlog.Log, sources []subject.SourceFile) Report {
	ev, ok := log.Latest(eventlog.TypeParse)
	if !ok {
		return Report{}
	}
	rep := Report{Parsed: true}
	payload, _ := ev.ParsePayload()
	recorded := payload.Digests()

	h, err := hasher.New(payload.Algorithm)
	if err != nil {
		h = hasher.Default()
	}

	present := make(map[string]bool, len(sources))
	for _, src := range sources {
		present[src.Name] = true
		want, known := recorded[src.Name]
		if !known {
			rep.Added = append(rep.Added, src.Name)
			continue
		}
		if !hasher.Matches(h.Digest(src.Path), want) {
			rep.Changed = append(rep.Changed, src.Name)
		}
	}
	for name := range recorded {
		if !present[name] {
			rep.Removed = append(rep.Removed, name)
		}
	}
	sort.Strings(rep.Removed)

	rep.Stale = len(rep.Changed) > 0 || len(rep.Added) > 0
	if d.DetectRemoved && len(rep.Removed) > 0 {
		rep.Stale = true
	}
	return rep
}
