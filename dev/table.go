package dev

import (
	"fmt"
	"sort"
	"sync"
)

// Model is a named device family: the dialog script its firmware needs.
type Model struct {
	name   string
	script *Script
}

// NewModel binds a compiled script to a family name.
func NewModel(name string, script *Script) *Model {
	return &Model{name: name, script: script}
}

// Name returns the device family name.
func (m *Model) Name() string {
	return m.name
}

// Script returns the dialog script of the family.
func (m *Model) Script() *Script {
	return m.script
}

// ModelTable is a goroutine-safe registry of device families.
type ModelTable struct {
	models map[string]*Model
	lock   sync.RWMutex
}

// NewModelTable creates an empty registry.
func NewModelTable() *ModelTable {
	return &ModelTable{models: map[string]*Model{}}
}

// GetModel finds a family by name.
func (t *ModelTable) GetModel(modelName string) (*Model, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if m, ok := t.models[modelName]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("GetModel: not found: '%s'", modelName)
}

// SetModel registers a family, refusing duplicates.
func (t *ModelTable) SetModel(m *Model, logger hasPrintf) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, found := t.models[m.name]; found {
		return fmt.Errorf("SetModel: duplicate model: '%s'", m.name)
	}
	t.models[m.name] = m
	logger.Printf("model registered: '%s' steps=%d", m.name, len(m.script.steps))
	return nil
}

// ListModels returns the registered names, sorted.
func (t *ModelTable) ListModels() []string {
	t.lock.RLock()
	defer t.lock.RUnlock()
	list := make([]string, 0, len(t.models))
	for name := range t.models {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// RegisterModels registers every built-in device family.
func RegisterModels(logger hasPrintf, t *ModelTable) {
	registerModelAvayaERS(logger, t)
}
