package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"docflow/internal/rbac"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var ErrUnknownActor = errors.New("unknown actor")

// Actor is a workflow participant as known to the organisation directory.
type Actor struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Role         rbac.Role `json:"role" yaml:"role"`
	SupervisorID string    `json:"supervisorId,omitempty" yaml:"supervisor"`
	ManagerID    string    `json:"managerId,omitempty" yaml:"manager"`
	Email        string    `json:"email,omitempty" yaml:"email"`
}

type Directory interface {
	Lookup(ctx context.Context, actorID string) (Actor, error)
}

// Static is an in-memory directory, optionally seeded from a YAML file.
// Actors missing from it resolve to the fallback role when one is set.
type Static struct {
	mu           sync.RWMutex
	actors       map[string]Actor
	fallbackRole rbac.Role
}

type fileFormat struct {
	Actors []Actor `yaml:"actors"`
}

func NewStatic(fallbackRole string, actors ...Actor) *Static {
	d := &Static{actors: make(map[string]Actor, len(actors))}
	if strings.TrimSpace(fallbackRole) != "" {
		d.fallbackRole = rbac.Normalize(fallbackRole)
	}
	for _, actor := range actors {
		d.Put(actor)
	}
	return d
}

// LoadFile reads actors from a YAML document of the form
//
//	actors:
//	  - id: u_alice
//	    name: Alice
//	    role: employee
//	    supervisor: u_sam
//	    manager: u_mia
func LoadFile(fs afero.Fs, path, fallbackRole string) (*Static, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}
	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", path, err)
	}
	for i, actor := range parsed.Actors {
		if strings.TrimSpace(actor.ID) == "" {
			return nil, fmt.Errorf("directory %s: actor %d has no id", path, i)
		}
		if !rbac.Valid(string(actor.Role)) {
			return nil, fmt.Errorf("directory %s: actor %s has unknown role %q", path, actor.ID, actor.Role)
		}
	}
	return NewStatic(fallbackRole, parsed.Actors...), nil
}

func (d *Static) Put(actor Actor) {
	actor.ID = strings.TrimSpace(actor.ID)
	actor.Role = rbac.Normalize(string(actor.Role))
	if actor.Name == "" {
		actor.Name = actor.ID
	}
	d.mu.Lock()
	d.actors[actor.ID] = actor
	d.mu.Unlock()
}

func (d *Static) Lookup(_ context.Context, actorID string) (Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Actor{}, ErrUnknownActor
	}
	d.mu.RLock()
	actor, ok := d.actors[actorID]
	d.mu.RUnlock()
	if ok {
		return actor, nil
	}
	if d.fallbackRole == "" {
		return Actor{}, fmt.Errorf("%w: %s", ErrUnknownActor, actorID)
	}
	return Actor{ID: actorID, Name: actorID, Role: d.fallbackRole}, nil
}

// List returns every registered actor ordered by id.
func (d *Static) List() []Actor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	items := make([]Actor, 0, len(d.actors))
	for _, actor := range d.actors {
		items = append(items, actor)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}
