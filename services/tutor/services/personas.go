// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt grounds the tutor when no persona file is
// configured or the requested persona is unknown.
const DefaultSystemPrompt = "You are a patient, encouraging tutor. " +
	"Explain concepts step by step, check the student's understanding, and " +
	"prefer guiding questions over giving away full solutions. When course " +
	"material is provided, ground your answer in it."

// Persona is one named tutoring voice with its system prompt.
type Persona struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// PersonaRegistry serves persona system prompts loaded from a YAML file
// and hot-reloads when the file changes.
//
// # Description
//
// Lookups are lock-guarded reads against an in-memory map; the fsnotify
// watcher replaces the map wholesale on each successful reload, so a
// malformed edit never wipes the previously good set.
type PersonaRegistry struct {
	mu       sync.RWMutex
	personas map[string]Persona
	path     string
}

// NewPersonaRegistry loads personas from path. An empty path yields a
// registry that only serves the default prompt.
func NewPersonaRegistry(path string) (*PersonaRegistry, error) {
	r := &PersonaRegistry{
		personas: make(map[string]Persona),
		path:     path,
	}
	if path == "" {
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	return r, nil
}

// SystemPrompt returns the prompt for the named persona, falling back to
// DefaultSystemPrompt for "" or unknown names.
func (r *PersonaRegistry) SystemPrompt(name string) string {
	if name == "" {
		return DefaultSystemPrompt
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.personas[name]; ok && p.SystemPrompt != "" {
		return p.SystemPrompt
	}
	slog.Debug("unknown persona, using default prompt", "persona", name)
	return DefaultSystemPrompt
}

// Names returns the configured persona names, for diagnostics.
func (r *PersonaRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	return names
}

func (r *PersonaRegistry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read persona file: %w", err)
	}

	var parsed personaFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse persona file: %w", err)
	}

	next := make(map[string]Persona, len(parsed.Personas))
	for _, p := range parsed.Personas {
		if p.Name == "" {
			continue
		}
		next[p.Name] = p
	}

	r.mu.Lock()
	r.personas = next
	r.mu.Unlock()

	slog.Info("personas loaded", "path", r.path, "count", len(next))
	return nil
}

// Watch reloads the persona file whenever it changes, until ctx is done.
// Failed reloads are logged and the previous set stays live.
func (r *PersonaRegistry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create persona watcher: %w", err)
	}
	if err := watcher.Add(r.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch persona file: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					slog.Error("persona reload failed, keeping previous set",
						"path", r.path,
						"error", err,
					)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("persona watcher error", "error", err)
			}
		}
	}()
	return nil
}
