// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Builder layers YAML fragments over a base configuration, later fragments
// winning. A key a fragment leaves out, or sets to its zero value, keeps the
// value below it; optional booleans are *bool so an explicit false still
// overrides.
type Builder struct {
	base      *Config
	fragments []fragment
}

// fragment is one layer; path is read when the configuration is built
type fragment struct {
	source string
	path   string
	yaml   string
}

// Use sets the configuration the fragments are merged into
func (b *Builder) Use(c *Config) *Builder {
	b.base = c
	return b
}

// Merge adds inline YAML fragments
func (b *Builder) Merge(yamls ...string) *Builder {
	for _, y := range yamls {
		b.fragments = append(b.fragments, fragment{
			source: fmt.Sprintf("fragment %d", len(b.fragments)+1),
			yaml:   y,
		})
	}
	return b
}

// MergeFile adds YAML files as fragments, in order
func (b *Builder) MergeFile(paths ...string) *Builder {
	for _, p := range paths {
		b.fragments = append(b.fragments, fragment{source: p, path: p})
	}
	return b
}

// Build merges every fragment into the base, DefaultConfig when none was
// set. All fragment errors are reported together.
func (b *Builder) Build() (*Config, error) {
	cfg := b.base
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var errs error
	for _, f := range b.fragments {
		data := []byte(f.yaml)
		if f.path != "" {
			var err error
			if data, err = os.ReadFile(f.path); err != nil {
				errs = errors.Join(errs, fmt.Errorf("failed to read config file: %w", err))
				continue
			}
		}

		layer := &Config{}
		if err := yaml.Unmarshal(data, layer); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to parse YAML from %s: %w", f.source, err))
			continue
		}
		if err := mergo.Merge(cfg, layer, mergo.WithOverride, mergo.WithTransformers(boolPtrTransformer{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to merge %s: %w", f.source, err))
		}
	}

	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

// FromFiles loads the first file over the defaults and layers the remaining
// ones over it with a Builder. With no file it returns the defaults.
func FromFiles(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return DefaultConfig(), nil
	}

	cfg, err := FromFile(paths[0])
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", paths[0], err)
	}
	if len(paths) == 1 {
		return cfg, nil
	}

	cfg, err = (&Builder{}).Use(cfg).MergeFile(paths[1:]...).Build()
	if err != nil {
		return nil, err
	}
	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// boolPtrTransformer lets a set *bool in a layer replace the one below,
// false included, while an unset one keeps it
type boolPtrTransformer struct{}

func (boolPtrTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*bool)(nil)) {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}
