package tick

import (
	"sort"
	"sync"

	"github.com/tickforge/ecsengine/internal/core/query"
	"github.com/tickforge/ecsengine/internal/core/scheduler"
	"github.com/tickforge/ecsengine/internal/core/wire"
)

// registeredSystem is the coordinator's view of one system name: its
// latest descriptor (access sets, filters, ordering) and the live set of
// instance IDs currently registered against it.
type registeredSystem struct {
	descriptor wire.SystemDescriptor
	instances  map[string]struct{}
}

// registry holds the live SystemRegistry (spec.md §4.2) plus the queues of
// register/unregister requests accumulated since the last tick boundary.
// The system set is frozen for the duration of a tick (spec.md §4.3 step
// 1): mutations only take effect the next time applyPending runs.
type registry struct {
	mu sync.Mutex

	systems map[string]*registeredSystem

	pendingRegister   []wire.SystemDescriptor
	pendingUnregister []wire.SystemUnregister
}

func newRegistry() *registry {
	return &registry{systems: make(map[string]*registeredSystem)}
}

// queueRegister enqueues a (re-)registration to take effect at the next
// tick boundary.
func (r *registry) queueRegister(d wire.SystemDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingRegister = append(r.pendingRegister, d)
}

// queueUnregister enqueues an unregistration to take effect at the next
// tick boundary (spec.md §5: "only explicit SystemUnregister removes an
// instance").
func (r *registry) queueUnregister(u wire.SystemUnregister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingUnregister = append(r.pendingUnregister, u)
}

// applyPending drains the queues built up since the last tick boundary and
// mutates the live registry (spec.md §4.3 step 1).
func (r *registry) applyPending() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.pendingRegister {
		s, ok := r.systems[d.Name]
		if !ok {
			s = &registeredSystem{instances: make(map[string]struct{})}
			r.systems[d.Name] = s
		}
		s.descriptor = d
		s.instances[d.InstanceID] = struct{}{}
	}
	r.pendingRegister = nil

	for _, u := range r.pendingUnregister {
		s, ok := r.systems[u.Name]
		if !ok {
			continue
		}
		delete(s.instances, u.InstanceID)
		if len(s.instances) == 0 {
			delete(r.systems, u.Name)
		}
	}
	r.pendingUnregister = nil
}

// snapshot returns the frozen SystemRegistry for the tick currently
// executing: scheduler input plus the instance IDs each system fans out
// to, both read under lock and safe to use without further locking for
// the rest of the tick.
func (r *registry) snapshot() (map[string]scheduler.SystemInfo, map[string][]string, map[string]wire.SystemDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make(map[string]scheduler.SystemInfo, len(r.systems))
	instances := make(map[string][]string, len(r.systems))
	descriptors := make(map[string]wire.SystemDescriptor, len(r.systems))

	for name, s := range r.systems {
		ids := make([]string, 0, len(s.instances))
		for id := range s.instances {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		instances[name] = ids
		descriptors[name] = s.descriptor

		infos[name] = scheduler.SystemInfo{
			Name:          name,
			Query:         descriptorToQuery(s.descriptor),
			InstanceCount: len(ids),
		}
	}
	return infos, instances, descriptors
}

// constraints collects the explicit ordering edges declared by every
// currently-registered system's descriptor.
func (r *registry) constraints() []scheduler.Constraint {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cs []scheduler.Constraint
	for name, s := range r.systems {
		for _, before := range s.descriptor.OrderBefore {
			cs = append(cs, scheduler.Constraint{Before: name, After: before})
		}
		for _, after := range s.descriptor.OrderAfter {
			cs = append(cs, scheduler.Constraint{Before: after, After: name})
		}
	}
	return cs
}

func descriptorToQuery(d wire.SystemDescriptor) query.Descriptor {
	filters := make([]query.Filter, 0, len(d.Filters))
	for _, f := range d.Filters {
		var kind query.FilterKind
		switch f.Kind {
		case "with":
			kind = query.With
		case "without":
			kind = query.Without
		case "changed":
			kind = query.Changed
		}
		filters = append(filters, query.Filter{Kind: kind, Type: f.Type})
	}
	return query.Descriptor{
		Reads:     d.Reads,
		Writes:    d.Writes,
		Optionals: d.Optionals,
		Filters:   filters,
	}
}
