package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Loader reads build profiles from CUE files, CUE package directories and
// Starlark scripts.
type Loader struct {
	cue      *CUEParser
	starlark *StarlarkEvaluator
}

// NewLoader creates a loader. A zero timeout selects the evaluator default.
func NewLoader(starlarkTimeout time.Duration) *Loader {
	return &Loader{
		cue:      NewCUEParser(),
		starlark: NewStarlarkEvaluator(starlarkTimeout),
	}
}

// Load parses the profiles at path. input is predeclared in Starlark
// scripts and ignored for CUE sources.
func (l *Loader) Load(ctx context.Context, path string, input map[string]interface{}) (*ParsedProfiles, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat profile %s: %w", path, err)
	}
	if info.IsDir() {
		return l.cue.Parse(ctx, []string{path})
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return l.cue.Parse(ctx, []string{path})
	case ".star", ".bzl":
		return l.loadStarlark(ctx, path, input)
	default:
		return nil, fmt.Errorf("unsupported profile format %q", filepath.Ext(path))
	}
}

// LoadProfile loads path and returns the named profile.
func (l *Loader) LoadProfile(ctx context.Context, path, name string, input map[string]interface{}) (*Profile, error) {
	parsed, err := l.Load(ctx, path, input)
	if err != nil {
		return nil, err
	}
	return parsed.Get(name)
}

func (l *Loader) loadStarlark(ctx context.Context, path string, input map[string]interface{}) (*ParsedProfiles, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	parsed := &ParsedProfiles{
		Profiles:    make(map[string]*Profile),
		SourceFiles: []string{path},
	}
	defer func() { parsed.ParsedAt = time.Now() }()

	res, err := l.starlark.Evaluate(ctx, path, string(script), input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		parsed.Errors = append(parsed.Errors, ValidationError{
			File:     path,
			Message:  res.Error,
			Severity: "error",
		})
		return parsed, nil
	}

	docs, err := profileData(res.Output)
	if err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			File:     path,
			Message:  err.Error(),
			Severity: "error",
		})
		return parsed, nil
	}

	dir := filepath.Dir(path)
	for name, doc := range docs {
		p, errs := l.cue.DecodeValue(name, doc)
		for i := range errs {
			errs[i].File = path
			if errs[i].Path == "" {
				errs[i].Path = name
			} else {
				errs[i].Path = name + "." + errs[i].Path
			}
		}
		if len(errs) > 0 {
			parsed.Errors = append(parsed.Errors, errs...)
			continue
		}
		p.resolveDatabase(dir)
		parsed.Profiles[name] = p
	}
	return parsed, nil
}
