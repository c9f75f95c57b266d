package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrSessionBusy is returned when an operation is already running on a session.
var ErrSessionBusy = errors.New("another operation is running on this logbook")

// ErrInvalidSelection is returned when FixRows gets no or out-of-range indexes.
var ErrInvalidSelection = errors.New("invalid row selection")

// Session holds one logbook: its template, config, current rows and action history.
type Session struct {
	ID string

	mu       sync.Mutex
	template TableTemplate
	config   SimulationConfig
	rows     []RowRecord
	history  []Turn
	progress []string
	busy     bool
	agent    *Agent
}

// Turn records one generate/fix/infer action.
type Turn struct {
	Action    string    `json:"action"`
	Summary   string    `json:"summary"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionView is a consistent copy of a session's state.
type SessionView struct {
	ID       string           `json:"id"`
	Template TableTemplate    `json:"template"`
	Config   SimulationConfig `json:"config"`
	Rows     []RowRecord      `json:"rows"`
	History  []Turn           `json:"history"`
	Progress []string         `json:"progress"`
	Busy     bool             `json:"busy"`
}

// NewSession creates a session with no rows yet.
func NewSession(id string, t TableTemplate, cfg SimulationConfig, agent *Agent) *Session {
	return &Session{
		ID:       id,
		template: t,
		config:   cfg,
		agent:    agent,
	}
}

// NewInferredSession builds a session from an uploaded document.
func NewInferredSession(ctx context.Context, id string, file []byte, mimeType string, cfg SimulationConfig, agent *Agent) (*Session, error) {
	t, rows, err := agent.InferAndGenerate(ctx, file, mimeType, cfg)
	if err != nil {
		return nil, err
	}
	s := NewSession(id, t, cfg, agent)
	s.rows = rows
	s.appendTurn("infer", fmt.Sprintf("inferred %d columns from %s", len(t.Columns), mimeType), len(rows))
	return s, nil
}

// Snapshot returns a copy safe to serialise while operations run.
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]RowRecord, len(s.rows))
	for i, r := range s.rows {
		rows[i] = r.Clone()
	}
	return SessionView{
		ID:       s.ID,
		Template: s.template,
		Config:   s.config,
		Rows:     rows,
		History:  append([]Turn(nil), s.history...),
		Progress: append([]string(nil), s.progress...),
		Busy:     s.busy,
	}
}

// SetConfig replaces the simulation config used by the next Generate.
func (s *Session) SetConfig(cfg SimulationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	return nil
}

// Generate regenerates every row. On failure the previous rows are kept.
func (s *Session) Generate(ctx context.Context) ([]RowRecord, error) {
	t, cfg, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	rows, err := s.agent.Generate(ctx, t, cfg, s.report)
	if err != nil {
		s.report("Generation failed: " + err.Error())
		return nil, err
	}
	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
	s.appendTurn("generate", fmt.Sprintf("%s mode, period %s", cfg.Mode, cfg.TargetPeriod), len(rows))
	return rows, nil
}

// FixRows auto-corrects the rows at the given indexes and writes them back in place.
func (s *Session) FixRows(ctx context.Context, indexes []int) ([]RowRecord, error) {
	t, _, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	picked, err := pickRows(s.rows, indexes)
	var subset []RowRecord
	for _, idx := range picked {
		subset = append(subset, s.rows[idx].Clone())
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	fixed, err := s.agent.Fix(ctx, subset, t)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for i, idx := range picked {
		if idx < len(s.rows) {
			s.rows[idx] = fixed[i]
		}
	}
	rows := append([]RowRecord(nil), s.rows...)
	s.mu.Unlock()
	s.appendTurn("fix", fmt.Sprintf("auto-fixed rows %v", picked), len(picked))
	return rows, nil
}

func (s *Session) begin() (TableTemplate, SimulationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return TableTemplate{}, SimulationConfig{}, ErrSessionBusy
	}
	s.busy = true
	s.progress = nil
	return s.template, s.config, nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) report(status string) {
	s.mu.Lock()
	s.progress = append(s.progress, status)
	s.mu.Unlock()
}

func (s *Session) appendTurn(action, summary string, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{
		Action:    action,
		Summary:   summary,
		Rows:      rows,
		CreatedAt: time.Now(),
	})
}

// pickRows validates and de-duplicates indexes, returning them sorted.
func pickRows(rows []RowRecord, indexes []int) ([]int, error) {
	if len(indexes) == 0 {
		return nil, fmt.Errorf("%w: no rows selected", ErrInvalidSelection)
	}
	seen := make(map[int]bool, len(indexes))
	out := make([]int, 0, len(indexes))
	for _, idx := range indexes {
		if idx < 0 || idx >= len(rows) {
			return nil, fmt.Errorf("%w: row index %d out of range (0-%d)", ErrInvalidSelection, idx, len(rows)-1)
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out, nil
}
