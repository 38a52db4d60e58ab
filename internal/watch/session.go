package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/assetflow/internal/graph"
	"github.com/hupe1980/assetflow/internal/logging"
	"github.com/hupe1980/assetflow/internal/reload"
	"github.com/hupe1980/assetflow/internal/runner"
)

// Builder runs builds over a task graph. *runner.Runner implements it.
type Builder interface {
	Graph() *graph.Graph
	Run(ctx context.Context, names []string) (*runner.Report, error)
}

// Notifier tells connected preview clients to reload.
type Notifier interface {
	Notify(kind reload.Kind)
}

// State is the scheduling state of a Session.
type State int

// Session states.
const (
	Idle State = iota
	Building
)

func (s State) String() string {
	if s == Building {
		return "building"
	}

	return "idle"
}

// selfWriteGrace is how long after a build its own outputs are not treated
// as source changes.
const selfWriteGrace = 2 * time.Second

// Session schedules builds for incoming triggers. At most one build runs at
// a time; triggers that arrive meanwhile are merged and run as exactly one
// follow-up build.
type Session struct {
	builder  Builder
	notifier Notifier
	logger   *slog.Logger
	out      io.Writer
	now      func() time.Time

	outMu sync.Mutex

	mu      sync.Mutex
	state   State
	pending []Trigger
	written map[string]time.Time
	wake    chan struct{}
	builds  int
}

// NewSession creates a session. notifier may be nil.
func NewSession(builder Builder, notifier Notifier, logger *slog.Logger, out io.Writer) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	if out == nil {
		out = io.Discard
	}

	return &Session{
		builder:  builder,
		notifier: notifier,
		logger:   logger,
		out:      out,
		now:      time.Now,
		written:  make(map[string]time.Time),
		wake:     make(chan struct{}, 1),
	}
}

// State returns the current scheduling state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Builds returns how many builds the session has run.
func (s *Session) Builds() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.builds
}

// Trigger schedules t. Reload-only triggers notify the preview at once and
// never build.
func (s *Session) Trigger(t Trigger) {
	if len(t.Tasks) == 0 {
		kind := t.Reload
		if kind == "" {
			kind = reload.Full
		}

		s.statusf("%s → reload (%s)", t.Label(), kind)
		s.notify(kind)

		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, t)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run processes triggers until ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			names, label := s.drain()
			if len(names) == 0 {
				continue
			}

			s.Build(ctx, names, label)
		}
	}
}

// Build runs names plus everything downstream of them, prints a status line
// and notifies the preview. Failures are reported, never returned.
func (s *Session) Build(ctx context.Context, names []string, label string) *runner.Report {
	names, err := s.builder.Graph().WithDependents(names)
	if err != nil {
		s.statusf("%s → ERROR: %v", label, err)
		return nil
	}

	s.setState(Building)
	defer s.setState(Idle)

	report, err := s.builder.Run(ctx, names)

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	if err != nil {
		s.statusf("%s → ERROR: %v", label, err)
		return nil
	}

	s.recordWrites(report.Written())

	if report.Failed() {
		s.statusf("%s → FAILED (%s)", label, Summarize(report))

		for _, res := range report.Results {
			if res.Status == runner.Failed {
				s.printf("  %s: %v\n", res.Task, res.Err)
			}
		}
	} else {
		s.statusf("%s → OK (%s)", label, Summarize(report))
	}

	if kind := report.Reload(); kind != reload.None {
		s.notify(kind)
	}

	return report
}

// drain takes all pending triggers and returns the merged task set. Triggers
// caused only by the session's own recent outputs are dropped.
func (s *Session) drain() ([]string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pending
	s.pending = nil

	now := s.now()
	for p, at := range s.written {
		if now.Sub(at) > selfWriteGrace {
			delete(s.written, p)
		}
	}

	set := make(map[string]struct{})

	var labels []string

	for _, t := range pending {
		if s.selfWritten(t.Paths) {
			s.logger.Debug("ignoring own outputs", slog.String("subscription", t.Subscription))
			continue
		}

		for _, name := range t.Tasks {
			set[name] = struct{}{}
		}

		labels = append(labels, t.Label())
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}

	sort.Strings(names)

	label := ""

	switch len(labels) {
	case 0:
	case 1:
		label = labels[0]
	default:
		label = fmt.Sprintf("%s (+%d triggers)", labels[0], len(labels)-1)
	}

	return names, label
}

func (s *Session) selfWritten(paths []string) bool {
	if len(paths) == 0 {
		return false
	}

	for _, p := range paths {
		if _, ok := s.written[p]; !ok {
			return false
		}
	}

	return true
}

func (s *Session) recordWrites(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, p := range paths {
		s.written[p] = now
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) notify(kind reload.Kind) {
	if s.notifier != nil {
		s.notifier.Notify(kind)
	}
}

func (s *Session) statusf(format string, args ...any) {
	s.printf("[%s] "+format+"\n", append([]any{s.now().Format(logging.TimeLayout)}, args...)...)
}

func (s *Session) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	fmt.Fprintf(s.out, format, args...)
}
