package supervisor

import (
	"sort"
	"sync"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// Registry tracks the managed processes of one launcher run.
// It holds at most one live process per name.
type Registry struct {
	mutex     sync.Mutex
	processes map[string]*ManagedProcess
}

func NewRegistry() *Registry {
	return &Registry{processes: make(map[string]*ManagedProcess)}
}

// Register adds p, replacing a previous entry only if that one has stopped
func (r *Registry) Register(p *ManagedProcess) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, ok := r.processes[p.Name]; ok && !existing.State().Terminal() {
		return errors.NewConflictError("process already running: "+p.Name, nil).
			WithContext("name", p.Name).
			WithContext("pid", existing.PID())
	}
	r.processes[p.Name] = p
	return nil
}

func (r *Registry) Get(name string) (*ManagedProcess, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	p, ok := r.processes[name]
	return p, ok
}

// Remove drops name only if it still maps to p
func (r *Registry) Remove(p *ManagedProcess) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.processes[p.Name] == p {
		delete(r.processes, p.Name)
	}
}

// Snapshot returns the tracked processes in start order
func (r *Registry) Snapshot() []*ManagedProcess {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	snapshot := make([]*ManagedProcess, 0, len(r.processes))
	for _, p := range r.processes {
		snapshot = append(snapshot, p)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].seq < snapshot[j].seq })
	return snapshot
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.processes)
}
