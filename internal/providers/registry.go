// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package providers

import (
	"errors"
	"fmt"

	"github.com/archgw/archgw/internal/apischema/openai"
)

var (
	// ErrEmptyProviders rejects a registry built from no descriptors.
	ErrEmptyProviders = errors.New("provider list is empty")
	// ErrMoreThanOneDefault rejects multiple default descriptors.
	ErrMoreThanOneDefault = errors.New("more than one provider marked default")
)

// DuplicateNameError rejects two specific descriptors with the same name.
type DuplicateNameError struct{ Name string }

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate provider name %q", e.Name)
}

// Registry is the read-only provider/model lookup built once at boot.
type Registry struct {
	byName    map[string]*Descriptor
	wildcards map[string]*Descriptor
	def       *Descriptor
	// ordered preserves insertion order for the public model catalog.
	ordered []*Descriptor
}

// NewRegistry validates and indexes the configured descriptors. Wildcard
// descriptors are expanded against the built-in model catalog; a specific
// "provider/model" entry always shadows the wildcard expansion for that
// model.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, ErrEmptyProviders
	}
	r := &Registry{
		byName:    map[string]*Descriptor{},
		wildcards: map[string]*Descriptor{},
	}

	// First pass: validate and collect the specific names that shadow
	// wildcard expansion.
	specific := map[string]bool{}
	for i := range descs {
		d := &descs[i]
		applyDefaults(d)
		if d.Default {
			if r.def != nil {
				return nil, ErrMoreThanOneDefault
			}
			r.def = d
		}
		if d.IsWildcard() {
			continue
		}
		if specific[d.Name] {
			return nil, &DuplicateNameError{Name: d.Name}
		}
		specific[d.Name] = true
	}

	// Second pass: expand wildcards, then index specific entries so they win
	// both name keys.
	for i := range descs {
		d := &descs[i]
		if !d.IsWildcard() {
			continue
		}
		r.wildcards[d.Provider] = d
		for _, model := range knownModels[d.Provider] {
			key := d.Provider + "/" + model
			if specific[key] {
				continue
			}
			clone := *d
			clone.Name = key
			clone.Model = model
			clone.Default = false
			r.insert(&clone)
		}
	}
	for i := range descs {
		d := &descs[i]
		if d.IsWildcard() {
			continue
		}
		r.insert(d)
	}
	return r, nil
}

func (r *Registry) insert(d *Descriptor) {
	r.ordered = append(r.ordered, d)
	r.byName[d.Name] = d
	if d.Model != "" && d.Model != d.Name {
		r.byName[d.Model] = d
	}
	if _, model := ParseSlug(d.Name); model != "" && model != d.Name {
		r.byName[model] = d
	}
}

// Get resolves a model or provider/model id to its descriptor. Resolution
// order: exact key, then slug components, then wildcard clone. Returns nil
// when nothing matches.
func (r *Registry) Get(name string) *Descriptor {
	if d, ok := r.byName[name]; ok {
		return d
	}
	provider, model := ParseSlug(name)
	if provider != "" {
		if d, ok := r.byName[provider+"/"+model]; ok {
			return d
		}
		if d, ok := r.byName[model]; ok {
			return d
		}
		if w, ok := r.wildcards[provider]; ok {
			clone := *w
			clone.Name = name
			clone.Model = model
			clone.Default = false
			return &clone
		}
	}
	return nil
}

// Default returns the descriptor marked default, or nil.
func (r *Registry) Default() *Descriptor { return r.def }

// Models enumerates the public model catalog for /v1/models: internal
// descriptors excluded, deduplicated by name, owned_by set to the provider
// id.
func (r *Registry) Models() openai.ModelList {
	list := openai.ModelList{Object: "list", Data: []openai.Model{}}
	seen := map[string]bool{}
	for _, d := range r.ordered {
		if d.Internal || seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		list.Data = append(list.Data, openai.Model{
			ID:      d.Name,
			Object:  "model",
			Created: 0,
			OwnedBy: d.Provider,
		})
	}
	return list
}
