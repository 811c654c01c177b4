package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"frontdesk/internal/domain"
)

// WorkerName identifies one capability worker.
type WorkerName string

const (
	WorkerBooking   WorkerName = "booking"
	WorkerRetention WorkerName = "retention"
	WorkerHealth    WorkerName = "health"
	WorkerCrowd     WorkerName = "crowd"
	WorkerPersona   WorkerName = "persona"
)

// WorkerNames lists every known worker in prompt order.
var WorkerNames = []WorkerName{WorkerBooking, WorkerRetention, WorkerHealth, WorkerCrowd, WorkerPersona}

var workerAliases = map[string]WorkerName{
	"booking":      WorkerBooking,
	"bookings":     WorkerBooking,
	"schedule":     WorkerBooking,
	"retention":    WorkerRetention,
	"billing":      WorkerRetention,
	"contract":     WorkerRetention,
	"health":       WorkerHealth,
	"medical":      WorkerHealth,
	"crowd":        WorkerCrowd,
	"occupancy":    WorkerCrowd,
	"persona":      WorkerPersona,
	"general":      WorkerPersona,
	"conversation": WorkerPersona,
}

// ErrUnknownWorker is wrapped by every UnknownWorkerError.
var ErrUnknownWorker = errors.New("unknown worker")

// UnknownWorkerError reports a worker name that maps to nothing.
type UnknownWorkerError struct {
	Name string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("unknown worker %q", e.Name)
}

func (e *UnknownWorkerError) Unwrap() error { return ErrUnknownWorker }

// ParseWorkerName maps a name, as written by a model or in a config file, to a
// WorkerName. Matching ignores case, surrounding quotes and a "Worker" suffix.
func ParseWorkerName(s string) (WorkerName, error) {
	key := strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'`))
	key = strings.TrimSuffix(key, "worker")
	key = strings.TrimRight(key, "_- ")
	if name, ok := workerAliases[key]; ok {
		return name, nil
	}
	return "", &UnknownWorkerError{Name: s}
}

// Registry maps worker names to implementations.
type Registry struct {
	mu      sync.RWMutex
	workers map[WorkerName]domain.Worker
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[WorkerName]domain.Worker)}
}

// Register adds or replaces a worker.
func (r *Registry) Register(name WorkerName, w domain.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[name] = w
}

// Get returns the worker registered under name.
func (r *Registry) Get(name WorkerName) (domain.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	if !ok {
		return nil, &UnknownWorkerError{Name: string(name)}
	}
	return w, nil
}

// Lookup parses a raw name and returns the matching worker.
func (r *Registry) Lookup(raw string) (WorkerName, domain.Worker, error) {
	name, err := ParseWorkerName(raw)
	if err != nil {
		return "", nil, err
	}
	w, err := r.Get(name)
	if err != nil {
		return name, nil, err
	}
	return name, w, nil
}

// Names returns the registered worker names, sorted.
func (r *Registry) Names() []WorkerName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]WorkerName, 0, len(r.workers))
	for n := range r.workers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
