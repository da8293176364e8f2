// Package state holds the engine's record of provisioned resources in a
// Terraform-compatible JSON state document.
package state

import (
	"sort"

	"github.com/google/uuid"
)

// Version is the state format version this engine writes
const Version = 4

// EngineVersion is recorded into every saved state file
const EngineVersion = "0.3.1"

// State is the root structure of the state file
type State struct {
	Version       int                    `json:"version"`
	EngineVersion string                 `json:"engine_version"`
	Serial        uint64                 `json:"serial"`
	Lineage       string                 `json:"lineage"`
	Outputs       map[string]OutputValue `json:"outputs"`
	Resources     []Resource             `json:"resources"`
}

// OutputValue is a recorded stack output
type OutputValue struct {
	Value     interface{} `json:"value"`
	Sensitive bool        `json:"sensitive,omitempty"`
}

// Resource represents a single managed resource in the state file
type Resource struct {
	Mode      string     `json:"mode"`
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Provider  string     `json:"provider"`
	Instances []Instance `json:"instances"`
}

// Address returns the resource address in type.name form
func (r *Resource) Address() string {
	return r.Type + "." + r.Name
}

// Instance represents a specific instance of a resource
type Instance struct {
	SchemaVersion int                    `json:"schema_version"`
	Attributes    map[string]interface{} `json:"attributes"`
	Dependencies  []string               `json:"dependencies,omitempty"`
}

// ID returns the instance's cloud identifier, if recorded
func (i *Instance) ID() string {
	if id, ok := i.Attributes["id"].(string); ok {
		return id
	}
	return ""
}

// New returns a fresh empty state with a new lineage
func New() *State {
	return &State{
		Version:       Version,
		EngineVersion: EngineVersion,
		Lineage:       uuid.NewString(),
		Outputs:       make(map[string]OutputValue),
	}
}

// Resource looks up a resource entry by address
func (s *State) Resource(address string) *Resource {
	for i := range s.Resources {
		if s.Resources[i].Address() == address {
			return &s.Resources[i]
		}
	}
	return nil
}

// Addresses returns all recorded resource addresses, sorted
func (s *State) Addresses() []string {
	out := make([]string, 0, len(s.Resources))
	for i := range s.Resources {
		out = append(out, s.Resources[i].Address())
	}
	sort.Strings(out)
	return out
}

// SetInstance records (or replaces) the single instance of a resource
func (s *State) SetInstance(typ, name, provider string, attrs map[string]interface{}) {
	inst := Instance{SchemaVersion: 1, Attributes: attrs}
	for i := range s.Resources {
		if s.Resources[i].Type == typ && s.Resources[i].Name == name {
			s.Resources[i].Instances = []Instance{inst}
			return
		}
	}
	s.Resources = append(s.Resources, Resource{
		Mode:      "managed",
		Type:      typ,
		Name:      name,
		Provider:  provider,
		Instances: []Instance{inst},
	})
}

// RemoveResource drops a resource entry by address
func (s *State) RemoveResource(address string) {
	for i := range s.Resources {
		if s.Resources[i].Address() == address {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return
		}
	}
}

// SetOutput records an output value
func (s *State) SetOutput(name string, value interface{}, sensitive bool) {
	if s.Outputs == nil {
		s.Outputs = make(map[string]OutputValue)
	}
	s.Outputs[name] = OutputValue{Value: value, Sensitive: sensitive}
}
