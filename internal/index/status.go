package index

import (
	"context"
	"time"

	"github.com/starford/semdex/internal/vectorstore"
)

// Phase is a step of the rebuild state machine.
type Phase string

// Phases. PhaseError is reachable from any other phase.
const (
	PhaseIdle  Phase = "idle"
	PhaseInit  Phase = "init"
	PhaseScan  Phase = "scan"
	PhaseChunk Phase = "chunk"
	PhaseEmbed Phase = "embed"
	PhaseWrite Phase = "write"
	PhaseError Phase = "error"
)

// Progress counts work items of the current phase.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Status is a point-in-time view of the index.
type Status struct {
	Enabled    bool       `json:"enabled"`
	LibraryKey string     `json:"libraryKey"`
	Model      string     `json:"model"`
	Phase      Phase      `json:"phase"`
	Busy       bool       `json:"busy"`
	Progress   Progress   `json:"progress"`
	LastError  string     `json:"lastError,omitempty"`
	Loaded     bool       `json:"loaded"`
	LoadError  string     `json:"loadError,omitempty"`
	Files      int        `json:"files"`
	Chunks     int        `json:"chunks"`
	Dims       int        `json:"dims"`
	DeadRows   int        `json:"deadRows"`
	DeadRatio  float64    `json:"deadRatio"`
	BuiltAt    *time.Time `json:"builtAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

func (s *Service) setPhase(p Phase, errMsg string) {
	s.stMu.Lock()
	changed := s.phase != p
	s.phase = p
	s.progress = Progress{}
	if p == PhaseError || p == PhaseIdle {
		s.lastErr = errMsg
	}
	s.stMu.Unlock()
	if changed {
		s.emit(Event{Type: EventPhase, Phase: p})
	}
}

func (s *Service) setProgress(done, total int) {
	s.stMu.Lock()
	s.progress = Progress{Done: done, Total: total}
	s.stMu.Unlock()
}

// Status reports configuration, progress and index statistics. It loads the
// index if needed but never fails; load problems land in LoadError.
func (s *Service) Status(ctx context.Context) Status {
	cfg, _ := s.current()

	s.stMu.Lock()
	st := Status{
		Enabled:    cfg.Enabled,
		LibraryKey: cfg.LibraryKey,
		Model:      cfg.Embedding.Model,
		Phase:      s.phase,
		Progress:   s.progress,
		LastError:  s.lastErr,
	}
	s.stMu.Unlock()
	st.Busy = s.lock.held()

	snap, err := s.EnsureLoaded(ctx)
	if err != nil {
		st.LoadError = err.Error()
		return st
	}
	m := snap.Meta
	built := m.BuiltAt
	st.Loaded = true
	st.Files = len(m.Files)
	st.Chunks = len(m.Chunks)
	st.Dims = m.Dims
	st.DeadRows = vectorstore.DeadRows(m, snap.Vectors)
	st.DeadRatio = vectorstore.DeadRatio(m, snap.Vectors)
	st.BuiltAt = &built
	st.UpdatedAt = m.UpdatedAt
	return st
}
