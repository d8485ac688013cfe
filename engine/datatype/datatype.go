// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package datatype defines the pluggable data type contract and the built-in
// codecs.
//
// A data type converts between a wire format and the transformable DOM that
// filters and transformers operate on. Protocol packs (HL7v2, X12, NCPDP)
// plug in through the same Registry; the engine itself ships RAW, JSON, XML
// and DELIMITED.
package datatype

import (
	"sort"
	"sync"

	"github.com/beevik/etree"
	"github.com/zeebo/errs"
)

// Error is the datatype error class.
var Error = errs.Class("datatype")

// Built-in data type names.
const (
	TypeRaw       = "RAW"
	TypeJSON      = "JSON"
	TypeXML       = "XML"
	TypeDelimited = "DELIMITED"
)

// DataType converts between a wire format and the transformable DOM.
type DataType interface {
	// Name returns the registered name.
	Name() string
	// ToTransformable parses raw into the DOM the transformers operate on.
	ToTransformable(raw []byte) (*etree.Document, error)
	// FromTransformable serializes the DOM back to the wire format.
	FromTransformable(doc *etree.Document) ([]byte, error)
	// MetaData extracts protocol-level metadata from raw.
	MetaData(raw []byte) (map[string]string, error)
	// Validate checks that raw is parseable without building the DOM.
	Validate(raw []byte) error
}

// Registry maps data type names to implementations.
type Registry struct {
	mu    sync.RWMutex
	types map[string]DataType
}

// NewRegistry returns a registry with the built-in codecs registered.
func NewRegistry() *Registry {
	registry := &Registry{types: map[string]DataType{}}
	for _, dt := range []DataType{
		NewRaw(),
		NewJSON(),
		NewXML(),
		NewDelimited(DelimitedConfig{}),
	} {
		// built-ins cannot collide
		_ = registry.Register(dt)
	}
	return registry
}

// Register adds a data type. Registering a name twice is an error.
func (registry *Registry) Register(dt DataType) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.types[dt.Name()]; exists {
		return Error.New("data type %q already registered", dt.Name())
	}
	registry.types[dt.Name()] = dt
	return nil
}

// Lookup returns the data type registered under name. An empty name resolves
// to RAW.
func (registry *Registry) Lookup(name string) (DataType, error) {
	if name == "" {
		name = TypeRaw
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	dt, ok := registry.types[name]
	if !ok {
		return nil, Error.New("unknown data type %q", name)
	}
	return dt, nil
}

// Names returns the registered names in sorted order.
func (registry *Registry) Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.types))
	for name := range registry.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
