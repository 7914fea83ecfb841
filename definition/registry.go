package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Registry is a read-only set of Definitions keyed by "component/area",
// the form a configuration file declares a deployment's cache areas in:
//
//	definitions:
//	  - component: forum
//	    area: posts
//	    ttl: 30s
//	    uses_static_acceleration: true
//	    static_acceleration_size: 128
type Registry struct {
	byName map[string]*Definition
}

type registryDoc struct {
	Definitions []*Definition `yaml:"definitions"`
}

// LoadYAML parses a registry document. Duplicate component/area pairs
// are an error: a Definition is the single source of truth for its area.
func LoadYAML(data []byte) (*Registry, error) {
	var doc registryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("definition: parsing registry: %w", err)
	}
	r := &Registry{byName: make(map[string]*Definition, len(doc.Definitions))}
	for _, d := range doc.Definitions {
		if d.Component == "" || d.Area == "" {
			return nil, fmt.Errorf("definition: entry missing component or area")
		}
		name := d.Component + "/" + d.Area
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("definition: duplicate area %q", name)
		}
		r.byName[name] = d
	}
	return r, nil
}

// Get returns the Definition for component/area, or nil if the registry
// has no such area.
func (r *Registry) Get(component, area string) *Definition {
	return r.byName[component+"/"+area]
}

// Len returns the number of registered areas.
func (r *Registry) Len() int { return len(r.byName) }
