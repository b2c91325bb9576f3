package machine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/synthtutor/internal/conversation"
	"github.com/ashureev/synthtutor/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Default timed-transition delays.
const (
	DefaultResumeDelay = 100 * time.Millisecond
	DefaultAckDelay    = 1500 * time.Millisecond
)

const (
	defaultPersistTimeout   = 10 * time.Second
	defaultCandidateTimeout = 2 * time.Minute
	subscriberBuffer        = 16
)

var meter = otel.GetMeterProvider().Meter("synthtutor/machine")

// Persister stores completed onboarding responses. Failures are logged only.
type Persister interface {
	Persist(ctx context.Context, rec domain.ResponseRecord) error
}

// CandidateGenerator produces synthetic-student replies for the latest tutor
// turn. *persona.FanOut implements it.
type CandidateGenerator interface {
	Generate(ctx context.Context, messages []domain.Message) ([]domain.Candidate, error)
}

// Options configures a Machine. Zero values select defaults.
type Options struct {
	// SessionID tags log lines.
	SessionID   string
	ResumeDelay time.Duration
	AckDelay    time.Duration
	Candidates  CandidateGenerator
	Persisters  []Persister
	IDs         *domain.IDSource
	Now         func() time.Time
	Logger      *slog.Logger
	// PersistTimeout bounds each persistence call.
	PersistTimeout time.Duration
	// CandidateTimeout bounds one fan-out.
	CandidateTimeout time.Duration
}

// Machine is the per-session orchestration state machine. Transitions are
// serialized; timers and the fan-out run on their own goroutines and
// re-enter only through Send.
type Machine struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	phase   Phase
	ctx     domain.Context
	version uint64
	closed  bool

	// timerGen and fanGen invalidate stale timer and fan-out callbacks.
	timerGen uint64
	timer    *time.Timer
	fanGen   uint64

	subs    map[int]chan Snapshot
	nextSub int

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Machine in the welcome state.
func New(opts Options) *Machine {
	if opts.ResumeDelay <= 0 {
		opts.ResumeDelay = DefaultResumeDelay
	}
	if opts.AckDelay <= 0 {
		opts.AckDelay = DefaultAckDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = domain.NewIDSource(opts.Now)
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.CandidateTimeout <= 0 {
		opts.CandidateTimeout = defaultCandidateTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionID != "" {
		logger = logger.With("session_id", opts.SessionID)
	}

	bg, cancel := context.WithCancel(context.Background())
	return &Machine{
		opts:   opts,
		logger: logger,
		state:  StateWelcome,
		subs:   make(map[int]chan Snapshot),
		bg:     bg,
		cancel: cancel,
	}
}

// Send dispatches one event. Events that are not valid in the current state
// are ignored.
func (m *Machine) Send(ev Event) {
	m.Apply(ev)
}

// Apply dispatches ev like Send and reports whether it was applied. A true
// result for BeginStreaming means the caller owns the turn it started.
func (m *Machine) Apply(ev Event) bool {
	if ev == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	if !m.transition(ev) {
		m.logger.Debug("event ignored", "event", ev.Type(), "state", stateValue(m.state, m.phase))
		return false
	}
	m.version++
	m.recordTransition(ev)
	m.broadcastLocked()
	return true
}

// Snapshot returns the current state and a deep copy of the context.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel that receives a snapshot after every applied
// transition, starting with the current one. A slow subscriber loses the
// oldest pending snapshots, never the newest. Call cancel to unsubscribe.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, subscriberBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Close stops timers, abandons in-flight work, closes every subscription and
// waits for background goroutines to return.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked()
	for id, c := range m.subs {
		delete(m.subs, id)
		close(c)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// transition applies ev and reports whether anything changed.
func (m *Machine) transition(ev Event) bool {
	switch m.state {
	case StateWelcome:
		switch e := ev.(type) {
		case Begin:
			m.state = StateNameCapture
			return true
		case ResumeWithName:
			m.ctx.ParticipantName = domain.NormalizeName(e.Name)
			m.ctx.Responses = e.Responses
			m.state = StateResuming
			m.scheduleLocked(m.opts.ResumeDelay)
			return true
		}

	case StateResuming:
		if e, ok := ev.(delayElapsed); ok && e.gen == m.timerGen {
			m.enterConversationLocked()
			return true
		}

	case StateNameCapture:
		switch e := ev.(type) {
		case SubmitName:
			m.ctx.ParticipantName = domain.NormalizeName(e.Name)
			m.state = StateTopicACapture
			return true
		case SkipName:
			m.ctx.ParticipantName = domain.SentinelName
			m.state = StateTopicACapture
			return true
		}

	case StateTopicACapture:
		if e, ok := ev.(SubmitTopicA); ok {
			m.ctx.Responses.TopicA = e.Text
			m.state = StateTopicAAcknowledged
			m.scheduleLocked(m.opts.AckDelay)
			return true
		}

	case StateTopicAAcknowledged:
		if e, ok := ev.(delayElapsed); ok && e.gen == m.timerGen {
			m.state = StateTopicBCapture
			return true
		}

	case StateTopicBCapture:
		if e, ok := ev.(SubmitTopicB); ok {
			m.ctx.Responses.TopicB = e.Text
			m.state = StateConversationComplete
			m.persistLocked()
			return true
		}

	case StateConversationComplete:
		if _, ok := ev.(Continue); ok {
			m.enterConversationLocked()
			return true
		}

	case StateConversationPhase:
		return m.conversationTransition(ev)
	}
	return false
}

func (m *Machine) conversationTransition(ev Event) bool {
	conv := m.ctx.Conversation

	// Accepted in every sub-state, except that a selection racing a tutor
	// stream is dropped: the in-progress message must stay last.
	switch e := ev.(type) {
	case SelectCandidate:
		if m.phase == PhaseStreaming {
			return false
		}
		conv.Messages = append(conv.Messages, domain.Message{
			ID:             m.opts.IDs.Next(),
			Role:           domain.RoleUser,
			Text:           e.Text,
			DisplayPersona: e.Persona,
		})
		conv.Milestones = conversation.Complete(conv.Milestones, e.MilestoneID)
		conv.Candidates = nil
		return true
	case CheckMilestones:
		conv.Milestones = conversation.ScanMilestones(conv.Messages, conv.Milestones)
		return true
	}

	switch m.phase {
	case PhaseIdle:
		switch e := ev.(type) {
		case BeginStreaming:
			m.phase = PhaseStreaming
			conv.Streaming = domain.Streaming{Active: true}
			conv.Candidates = nil
			return true
		case AppendMessages:
			conversation.Append(conv, e.Messages, m.opts.IDs)
			return true
		}

	case PhaseStreaming:
		switch e := ev.(type) {
		case AppendMessages:
			conversation.Append(conv, e.Messages, m.opts.IDs)
			return true
		case EndStreaming:
			conv.Streaming = domain.Streaming{}
			m.phase = PhaseGeneratingCandidates
			conv.GeneratingCandidates = true
			m.startFanOutLocked()
			return true
		case StreamFailed:
			conversation.DropStreamingMessage(conv)
			conv.Streaming = domain.Streaming{}
			m.phase = PhaseIdle
			m.logger.Warn("tutor stream failed", "error", e.Error)
			return true
		}

	case PhaseGeneratingCandidates:
		if e, ok := ev.(candidatesSettled); ok && e.gen == m.fanGen {
			conv.GeneratingCandidates = false
			m.phase = PhaseIdle
			switch {
			case e.err != nil:
				m.logger.Warn("candidate generation failed", "error", e.err)
			case len(e.candidates) == 0:
				m.logger.Warn("candidate generation returned no candidates")
			default:
				conv.Candidates = e.candidates
			}
			return true
		}
	}
	return false
}

// enterConversationLocked (re)initializes the conversation and falls
// through to idle.
func (m *Machine) enterConversationLocked() {
	m.stopTimerLocked()
	m.fanGen++
	m.state = StateConversationPhase
	m.ctx.Conversation = conversation.New()
	m.phase = PhaseIdle
}

func (m *Machine) scheduleLocked(d time.Duration) {
	m.stopTimerLocked()
	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(d, func() {
		m.Send(delayElapsed{gen: gen})
	})
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) startFanOutLocked() {
	m.fanGen++
	gen := m.fanGen

	if m.opts.Candidates == nil {
		m.logger.Debug("no candidate generator configured")
		m.goLocked(func() { m.Send(candidatesSettled{gen: gen}) })
		return
	}

	messages := append([]domain.Message(nil), m.ctx.Conversation.Messages...)
	generator := m.opts.Candidates
	timeout := m.opts.CandidateTimeout
	m.goLocked(func() {
		ctx, cancel := context.WithTimeout(m.bg, timeout)
		defer cancel()
		candidates, err := generator.Generate(ctx, messages)
		m.Send(candidatesSettled{gen: gen, candidates: candidates, err: err})
	})
}

// persistLocked fires persistence when the participant named themselves and
// answered both questions.
func (m *Machine) persistLocked() {
	if m.ctx.IsAnonymous() || !m.ctx.Responses.Complete() {
		m.logger.Debug("skipping response persistence")
		return
	}
	rec := domain.ResponseRecord{
		Name:      m.ctx.ParticipantName,
		Responses: m.ctx.Responses,
		Timestamp: m.opts.Now(),
	}
	for _, p := range m.opts.Persisters {
		timeout := m.opts.PersistTimeout
		m.goLocked(func() {
			ctx, cancel := context.WithTimeout(m.bg, timeout)
			defer cancel()
			if err := p.Persist(ctx, rec); err != nil {
				m.logger.Warn("failed to persist responses", "error", err)
			}
		})
	}
}

func (m *Machine) goLocked(f func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		f()
	}()
}

func (m *Machine) snapshotLocked() Snapshot {
	phase := Phase("")
	if m.state == StateConversationPhase {
		phase = m.phase
	}
	return Snapshot{
		Value:   stateValue(m.state, phase),
		State:   m.state,
		Phase:   phase,
		Context: m.ctx.Clone(),
		Version: m.version,
	}
}

// broadcastLocked delivers the current snapshot to every subscriber,
// evicting the oldest queued snapshot when a buffer is full.
func (m *Machine) broadcastLocked() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *Machine) recordTransition(ev Event) {
	counter, err := meter.Int64Counter("machine.transitions")
	if err != nil {
		return
	}
	counter.Add(m.bg, 1, otelmetric.WithAttributes(
		attribute.String("event", ev.Type()),
		attribute.String("state", stateValue(m.state, m.phase)),
	))
}
