package index

// Event types published to the observer.
const (
	EventPhase       = "index.phase"
	EventRebuilt     = "index.rebuilt"
	EventFileIndexed = "file.indexed"
	EventFileRemoved = "file.removed"
	EventCleared     = "index.cleared"
	EventError       = "index.error"
)

// Event describes a state change of the index.
type Event struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	Phase  Phase  `json:"phase,omitempty"`
	Files  int    `json:"files,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Service) emit(e Event) {
	if s.observer != nil {
		s.observer(e)
	}
}
