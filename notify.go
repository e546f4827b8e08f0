package mediacache

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// --- Notification Sink ---

// Variant classifies a notice for the UI layer.
type Variant string

const (
	VariantInfo    Variant = "info"
	VariantSuccess Variant = "success"
	VariantWarning Variant = "warning"
	VariantError   Variant = "error"
)

// Action is an optional affordance attached to a notice, e.g. a retry button.
type Action struct {
	Label string
	Run   func()
}

// Notice is one user-facing message. Duration of 0 means the sink's default;
// a negative Duration asks the sink to persist the notice until updated.
type Notice struct {
	Message     string
	Description string
	Variant     Variant
	Duration    time.Duration
	Action      *Action
}

// Notifier is the sink for user-visible progress and error reporting.
// Notify returns an id; Update replaces the notice with that id in place,
// which is how a loading notice transitions to success or error.
type Notifier interface {
	Notify(n Notice) string
	Update(id string, n Notice)
}

// LogNotifier writes notices to the process log. It is the default sink when
// no UI-facing Notifier is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notice) string {
	id := uuid.NewString()
	logNotice(id, n)
	return id
}

func (LogNotifier) Update(id string, n Notice) {
	logNotice(id, n)
}

func logNotice(id string, n Notice) {
	if n.Description != "" {
		log.Printf("NOTICE [%s] %s: %s — %s", n.Variant, id, n.Message, n.Description)
		return
	}
	log.Printf("NOTICE [%s] %s: %s", n.Variant, id, n.Message)
}

// MemoryNotifier records every notice keyed by id, preserving update order.
// Intended for tests and diagnostics tooling.
type MemoryNotifier struct {
	mu      sync.Mutex
	byID    map[string][]Notice
	ordered []string
}

// NewMemoryNotifier creates an empty recording notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{byID: make(map[string][]Notice)}
}

func (m *MemoryNotifier) Notify(n Notice) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.byID[id] = []Notice{n}
	m.ordered = append(m.ordered, id)
	return id
}

func (m *MemoryNotifier) Update(id string, n Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = append(m.byID[id], n)
}

// History returns every notice recorded under id, oldest first.
func (m *MemoryNotifier) History(id string) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notice, len(m.byID[id]))
	copy(out, m.byID[id])
	return out
}

// Last returns the most recent notice under id.
func (m *MemoryNotifier) Last(id string) (Notice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.byID[id]
	if len(hist) == 0 {
		return Notice{}, false
	}
	return hist[len(hist)-1], true
}

// IDs returns notice ids in creation order.
func (m *MemoryNotifier) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ordered))
	copy(out, m.ordered)
	return out
}
