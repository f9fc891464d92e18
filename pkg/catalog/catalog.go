// Package catalog loads endpoint descriptions from a YAML file and serves
// them to the load test surfaces.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"loadlab/pkg/loadtest"
)

// ErrEndpointNotFound is returned for unknown endpoint ids
var ErrEndpointNotFound = errors.New("endpoint not found")

// Entry is a catalogued endpoint with its ownership
type Entry struct {
	ID       string                `json:"id" yaml:"id"`
	OwnerID  string                `json:"ownerId" yaml:"ownerId"`
	Name     string                `json:"name" yaml:"name"`
	Endpoint loadtest.EndpointSpec `json:"endpoint" yaml:",inline"`
}

type file struct {
	Endpoints []Entry `yaml:"endpoints"`
}

// Catalog is an immutable in-memory endpoint index
type Catalog struct {
	entries map[string]Entry
}

// Load reads the catalog file. A missing file yields an empty catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Catalog{entries: map[string]Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML and validates every entry
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{entries: make(map[string]Entry, len(f.Endpoints))}
	for i, e := range f.Endpoints {
		if e.ID == "" {
			return nil, fmt.Errorf("endpoint %d: id is required", i)
		}
		if _, dup := c.entries[e.ID]; dup {
			return nil, fmt.Errorf("endpoint %s: duplicate id", e.ID)
		}
		if e.Endpoint.URL == "" {
			return nil, fmt.Errorf("endpoint %s: url is required", e.ID)
		}
		method := loadtest.MethodGet
		if e.Endpoint.Method != "" {
			m, err := loadtest.ParseMethod(string(e.Endpoint.Method))
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", e.ID, err)
			}
			method = m
		}
		e.Endpoint.Method = method
		if e.Name == "" {
			e.Name = e.ID
		}
		c.entries[e.ID] = e
	}
	return c, nil
}

// Endpoint returns the entry registered under id
func (c *Catalog) Endpoint(ctx context.Context, id string) (Entry, error) {
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	return e, nil
}

// List returns all entries ordered by id
func (c *Catalog) List() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
