package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// CUEParser parses and validates CUE build profiles.
//
// A profile file declares either a single `profile` struct or a `profiles`
// struct keyed by name; both may appear together.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: NewSchemaRegistry(ctx),
		validator:      validator.New(),
	}
}

// Parse parses CUE profiles from the given files or package directories.
// Sources are unified before extraction. Validation problems are reported
// in ParsedProfiles.Errors; the error return covers I/O failures only.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedProfiles, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var errs []ValidationError
		if info.IsDir() {
			var files []string
			val, files, errs = cp.loadDirectory(source)
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs = cp.loadFile(source)
			sourceFiles = append(sourceFiles, source)
		}
		parseErrors = append(parseErrors, errs...)
		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedProfiles{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &ParsedProfiles{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	parsed := cp.extractProfiles(cueValue, sourceFiles)
	if len(parsed.Errors) == 0 {
		dir := filepath.Dir(sources[0])
		if info, err := os.Stat(sources[0]); err == nil && info.IsDir() {
			dir = sources[0]
		}
		for _, p := range parsed.Profiles {
			p.resolveDatabase(dir)
		}
	}
	return parsed, nil
}

// ParseInline parses inline CUE content. Database paths are left as written.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedProfiles, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedProfiles{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractProfiles(val, []string{"inline"}), nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractProfiles decodes every profile in val.
func (cp *CUEParser) extractProfiles(val cue.Value, sourceFiles []string) *ParsedProfiles {
	parsed := &ParsedProfiles{
		Profiles:    make(map[string]*Profile),
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	if single := val.LookupPath(cue.ParsePath("profile")); single.Exists() {
		cp.addProfile(parsed, DefaultProfileName, "profile", single)
	}

	if many := val.LookupPath(cue.ParsePath("profiles")); many.Exists() {
		iter, err := many.Fields()
		if err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "profiles",
				Message:  fmt.Sprintf("failed to iterate profiles: %v", err),
				Severity: "error",
			})
		} else {
			for iter.Next() {
				name := iter.Selector().Unquoted()
				cp.addProfile(parsed, name, "profiles."+iter.Selector().String(), iter.Value())
			}
		}
	}

	if len(parsed.Profiles) == 0 && len(parsed.Errors) == 0 {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Message:  "no profile or profiles field found",
			Severity: "error",
		})
	}
	return parsed
}

func (cp *CUEParser) addProfile(parsed *ParsedProfiles, name, path string, val cue.Value) {
	if _, dup := parsed.Profiles[name]; dup {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     path,
			Message:  fmt.Sprintf("duplicate profile %q", name),
			Severity: "error",
		})
		return
	}
	p, errs := cp.decodeProfile(name, val)
	for i := range errs {
		if errs[i].Path == "" {
			errs[i].Path = path
		}
	}
	if len(errs) > 0 {
		parsed.Errors = append(parsed.Errors, errs...)
		return
	}
	parsed.Profiles[name] = p
}

// decodeProfile unifies val with the profile schema, decodes it and checks
// the struct tags.
func (cp *CUEParser) decodeProfile(name string, val cue.Value) (*Profile, []ValidationError) {
	unified, err := cp.schemaRegistry.Unify("profile", val)
	if err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	p := &Profile{}
	if err := unified.Decode(p); err != nil {
		return nil, []ValidationError{{
			Message:  fmt.Sprintf("failed to decode profile: %v", err),
			Severity: "error",
		}}
	}
	p.Name = name

	if err := cp.validator.Struct(p); err != nil {
		return nil, []ValidationError{{
			Message:  fmt.Sprintf("validation failed: %v", err),
			Severity: "error",
		}}
	}
	return p, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}

	return validationErrors
}

// ValidateProfile checks p against the profile schema.
func (cp *CUEParser) ValidateProfile(ctx context.Context, p *Profile) error {
	return cp.schemaRegistry.ValidateProfile(ctx, p)
}

// DecodeValue validates Go data, such as Starlark globals, as a profile.
func (cp *CUEParser) DecodeValue(name string, data map[string]interface{}) (*Profile, []ValidationError) {
	val := cp.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}
	return cp.decodeProfile(name, val)
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportJSON exports a profile as indented JSON.
func ExportJSON(p *Profile) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}
