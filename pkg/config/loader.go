package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/mctl/pkg/types"
)

// skippedPrefixes names files a workload directory scan must not treat as
// workload definitions.
var skippedPrefixes = []string{"inventory.", "daemon.", "vars."}

// Loader parses declarative workload files from a config directory into
// WorkloadSpecs.
type Loader struct {
	Dir string
}

// NewLoader returns a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

// LoadAll parses every workload file in the directory (sorted, for
// deterministic reload diffing) and returns the combined spec list. A
// parse or validation failure in any file aborts the whole load with a
// *ConfigError and returns no specs, matching spec's "reload is atomic"
// rule: the caller must leave its registry untouched on error.
func (l *Loader) LoadAll() ([]types.WorkloadSpec, error) {
	paths, err := l.workloadFiles()
	if err != nil {
		return nil, err
	}

	sharedVars, err := loadVarsFile(l.Dir)
	if err != nil {
		return nil, err
	}

	var specs []types.WorkloadSpec
	for _, path := range paths {
		fileSpecs, err := l.loadFile(path, sharedVars)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fileSpecs...)
	}
	return specs, nil
}

func (l *Loader) workloadFiles() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if isSkipped(name) {
			continue
		}
		paths = append(paths, filepath.Join(l.Dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func isSkipped(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// loadFile parses a single workload file, handling both the single
// workload and `{workloads: [...]}` shapes.
func (l *Loader) loadFile(path string, sharedVars map[string]any) ([]types.WorkloadSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}

	rendered := string(raw)
	if hasTemplateSyntax(rendered) {
		inlineVars, err := extractVarsBlock(rendered)
		if err != nil {
			return nil, &ConfigError{Path: path, Message: err.Error()}
		}
		ctx := buildContext(sharedVars, inlineVars)
		rendered, err = renderTemplate(path, rendered, ctx)
		if err != nil {
			return nil, &ConfigError{Path: path, Message: err.Error()}
		}
	}

	var probe map[string]any
	if err := yaml.Unmarshal([]byte(rendered), &probe); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}

	if _, multi := probe["workloads"]; multi {
		var cfg MultiWorkloadConfig
		if err := yaml.Unmarshal([]byte(rendered), &cfg); err != nil {
			return nil, &ConfigError{Path: path, Message: err.Error()}
		}
		specs := make([]types.WorkloadSpec, 0, len(cfg.Workloads))
		for _, wc := range cfg.Workloads {
			spec, err := wc.ToSpec(path)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
		return specs, nil
	}

	var wc WorkloadFileConfig
	if err := yaml.Unmarshal([]byte(rendered), &wc); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}
	spec, err := wc.ToSpec(path)
	if err != nil {
		return nil, err
	}
	return []types.WorkloadSpec{spec}, nil
}

// ReadVersionFile reads `.mctl-version` from the parent of the node config
// directory. An absent file yields a nil version, not an error.
func ReadVersionFile(configDir string) (*string, error) {
	path := filepath.Join(filepath.Dir(configDir), ".mctl-version")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	version := strings.TrimSpace(string(data))
	return &version, nil
}
