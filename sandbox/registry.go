package sandbox

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnsupportedLanguage is returned when a language id is not in the registry
// and the registry is strict.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// MountMode controls how the workspace is bind-mounted into the container.
type MountMode string

const (
	ReadOnly  MountMode = "ro"
	ReadWrite MountMode = "rw"
)

// LanguageName constants
const (
	LanguagePython = "python"
	LanguageJava   = "java"
	LanguageCPP    = "cpp"
)

// FallbackLanguage is used for unknown ids when the registry is lenient.
const FallbackLanguage = LanguagePython

// LanguageSpec describes how a language is built and run inside its container.
type LanguageSpec struct {
	ID         string
	SourceFile string
	Command    string
	Image      string
	MountMode  MountMode
}

// ImageFor returns the conventional runner image name for a language id.
func ImageFor(language string) string {
	return language + "-runner"
}

func defaultSpecs() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:         LanguagePython,
			SourceFile: "script.py",
			Command:    "python script.py",
			Image:      ImageFor(LanguagePython),
			MountMode:  ReadOnly,
		},
		{
			ID:         LanguageJava,
			SourceFile: JavaClassName + ".java",
			Command:    fmt.Sprintf("javac %[1]s.java && java %[1]s", JavaClassName),
			Image:      ImageFor(LanguageJava),
			MountMode:  ReadWrite,
		},
		{
			ID:         LanguageCPP,
			SourceFile: "script.cpp",
			Command:    "g++ script.cpp -o script && ./script",
			Image:      ImageFor(LanguageCPP),
			MountMode:  ReadWrite,
		},
	}
}

// Registry is the read-only language table. It is built once by NewRegistry
// and never mutated, so lookups need no locking.
type Registry struct {
	specs  map[string]LanguageSpec
	strict bool
}

// NewRegistry builds the registry. images overrides the image name per
// language id; ids not in the fixed set are ignored. A strict registry rejects
// unknown languages, a lenient one falls back to FallbackLanguage.
func NewRegistry(images map[string]string, strict bool) *Registry {
	specs := make(map[string]LanguageSpec)
	for _, spec := range defaultSpecs() {
		if image, ok := images[spec.ID]; ok && image != "" {
			spec.Image = image
		}
		specs[spec.ID] = spec
	}
	return &Registry{specs: specs, strict: strict}
}

// Lookup returns the spec registered for id.
func (r *Registry) Lookup(id string) (LanguageSpec, bool) {
	spec, ok := r.specs[id]
	return spec, ok
}

// Resolve applies the unknown-language policy on top of Lookup.
func (r *Registry) Resolve(id string) (LanguageSpec, error) {
	if spec, ok := r.specs[id]; ok {
		return spec, nil
	}
	if r.strict {
		return LanguageSpec{}, fmt.Errorf("%w: %q, must be one of: %v", ErrUnsupportedLanguage, id, r.IDs())
	}
	return r.specs[FallbackLanguage], nil
}

// IDs returns the registered language ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
