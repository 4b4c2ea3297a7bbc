package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrIdentityNotFound is returned when a user has no directory entry.
var ErrIdentityNotFound = errors.New("orchestrator: identity not found")

// Identity is display metadata for a user. It labels users in reports and
// dashboards so operators do not have to work from raw IDs.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"` // student, tutor, admin
}

// Directory resolves user IDs to display metadata. Reporting surfaces
// consult it; risk scoring never does, so a directory outage cannot change
// a decision.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*Identity, error)
}

// WithDirectory attaches an identity directory for report labeling.
func (o *Orchestrator) WithDirectory(d Directory) *Orchestrator {
	o.directory = d
	return o
}

// identify resolves display metadata for the given users, skipping IDs the
// directory does not know. Returns nil when no directory is attached.
func (o *Orchestrator) identify(ctx context.Context, userIDs []string) map[string]*Identity {
	if o.directory == nil || len(userIDs) == 0 {
		return nil
	}
	out := make(map[string]*Identity)
	for _, id := range userIDs {
		if _, ok := out[id]; ok {
			continue
		}
		ident, err := o.directory.Lookup(ctx, id)
		if err != nil {
			continue
		}
		out[id] = ident
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MemoryDirectory is an in-memory Directory, seeded at startup.
type MemoryDirectory struct {
	mu      sync.RWMutex
	entries map[string]*Identity
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{entries: make(map[string]*Identity)}
}

// Put registers or replaces a directory entry.
func (d *MemoryDirectory) Put(ident *Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *ident
	d.entries[ident.UserID] = &cp
}

func (d *MemoryDirectory) Lookup(_ context.Context, userID string) (*Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ident, ok := d.entries[userID]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	cp := *ident
	return &cp, nil
}
