// Package plugin runs user-supplied JavaScript hooks around the rendering
// pipeline. Plugins are declared in a YAML manifest and executed with goja;
// a failing plugin is skipped, never fatal.
package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"gopkg.in/yaml.v3"
)

// Stage names a pipeline hook point.
type Stage string

const (
	// StagePreParse runs against the raw Markdown source before parsing.
	StagePreParse Stage = "pre_parse"
	// StagePostRender runs against the final HTML.
	StagePostRender Stage = "post_render"
)

// Manifest is the on-disk plugin declaration.
type Manifest struct {
	Plugins []Spec `yaml:"plugins"`
}

// Spec declares one plugin: a script file and the stages it participates in.
type Spec struct {
	Name   string   `yaml:"name"`
	File   string   `yaml:"file"`
	Stages []string `yaml:"stages"`
}

// Set is a loaded, ready-to-run plugin chain.
type Set struct {
	plugins []*plugin
	log     *slog.Logger
}

type plugin struct {
	name   string
	stages map[Stage]bool

	// goja VMs are not safe for concurrent use.
	mu sync.Mutex
	vm *goja.Runtime
}

// LoadManifest reads a YAML manifest and initializes every declared plugin.
// Script paths are resolved relative to the manifest file. A plugin whose
// script fails to load is dropped with a warning.
func LoadManifest(path string, log *slog.Logger) (*Set, error) {
	if log == nil {
		log = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse plugin manifest: %w", err)
	}

	set := &Set{log: log}
	dir := filepath.Dir(path)
	for _, spec := range m.Plugins {
		p, err := loadPlugin(dir, spec, log)
		if err != nil {
			log.Warn("plugin skipped", "plugin", spec.Name, "error", err)
			continue
		}
		set.plugins = append(set.plugins, p)
	}
	return set, nil
}

func loadPlugin(dir string, spec Spec, log *slog.Logger) (*plugin, error) {
	if spec.Name == "" || spec.File == "" {
		return nil, fmt.Errorf("plugin needs both name and file")
	}
	script, err := os.ReadFile(filepath.Join(dir, spec.File))
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	vm := goja.New()
	if err := bridgeConsole(vm, spec.Name, log); err != nil {
		return nil, err
	}
	if _, err := vm.RunString(string(script)); err != nil {
		return nil, fmt.Errorf("evaluate script: %w", err)
	}

	stages := make(map[Stage]bool, len(spec.Stages))
	for _, s := range spec.Stages {
		stages[Stage(s)] = true
	}
	return &plugin{name: spec.Name, stages: stages, vm: vm}, nil
}

// bridgeConsole routes console.log/warn/error from scripts into slog.
func bridgeConsole(vm *goja.Runtime, name string, log *slog.Logger) error {
	console := vm.NewObject()
	bind := func(method string, emit func(msg string, args ...any)) error {
		return console.Set(method, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				parts = append(parts, a.String())
			}
			emit(strings.Join(parts, " "), "plugin", name)
			return goja.Undefined()
		})
	}
	if err := bind("log", log.Info); err != nil {
		return err
	}
	if err := bind("warn", log.Warn); err != nil {
		return err
	}
	if err := bind("error", log.Error); err != nil {
		return err
	}
	return vm.Set("console", console)
}

// Len reports how many plugins loaded.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.plugins)
}

// Run passes input through every plugin registered for the stage, in
// manifest order. A plugin that errors or returns a non-string leaves the
// input unchanged.
func (s *Set) Run(stage Stage, input string) string {
	if s == nil {
		return input
	}
	for _, p := range s.plugins {
		if !p.stages[stage] {
			continue
		}
		out, err := p.call(stage, input)
		if err != nil {
			s.log.Warn("plugin hook failed", "plugin", p.name, "stage", string(stage), "error", err)
			continue
		}
		input = out
	}
	return input
}

func (p *plugin) call(stage Stage, input string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn, ok := goja.AssertFunction(p.vm.Get(string(stage)))
	if !ok {
		return "", fmt.Errorf("script defines no %s function", stage)
	}
	res, err := fn(goja.Undefined(), p.vm.ToValue(input))
	if err != nil {
		return "", err
	}
	out, ok := res.Export().(string)
	if !ok {
		return "", fmt.Errorf("%s returned %s, want string", stage, res.ExportType())
	}
	return out, nil
}
