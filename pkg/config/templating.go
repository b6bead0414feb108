package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// hasTemplateSyntax reports whether raw contains a template placeholder.
// Go's text/template conveniently shares Jinja2's `{{ }}` delimiter, so
// files authored against the source's templating convention need no
// syntax translation, only a different rendering engine underneath.
func hasTemplateSyntax(raw string) bool {
	return strings.Contains(raw, "{{")
}

// extractVarsBlock pulls a top-level `vars:` mapping out of raw via plain
// line scanning rather than a YAML parse, because a file using template
// placeholders inside other fields may not be valid YAML until after
// rendering. Mirrors the source's extract_vars_from_text fallback.
func extractVarsBlock(raw string) (map[string]any, error) {
	lines := strings.Split(raw, "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimRight(line, " \t") == "vars:" {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, nil
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(lines[i], " ") && !strings.HasPrefix(lines[i], "\t") {
			end = i
			break
		}
	}

	block := strings.Join(lines[start:end], "\n")
	var wrapper struct {
		Vars map[string]any `yaml:"vars"`
	}
	if err := yaml.Unmarshal([]byte(block), &wrapper); err != nil {
		return nil, fmt.Errorf("parsing inline vars block: %w", err)
	}
	return wrapper.Vars, nil
}

// loadVarsFile reads vars.yaml or vars.yml from dir, if present.
func loadVarsFile(dir string) (map[string]any, error) {
	for _, name := range []string{"vars.yaml", "vars.yml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var vars map[string]any
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return vars, nil
	}
	return nil, nil
}

// buildContext merges substitution sources at increasing precedence:
// environment, then the directory's shared vars.yaml, then the file's own
// inline `vars:` block.
func buildContext(sharedVars, inlineVars map[string]any) map[string]any {
	ctx := map[string]any{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			ctx[parts[0]] = parts[1]
		}
	}
	for k, v := range sharedVars {
		ctx[k] = v
	}
	for k, v := range inlineVars {
		ctx[k] = v
	}
	return ctx
}

// renderTemplate renders raw against ctx with strict undefined-variable
// semantics (text/template's "missingkey=error", the Go analogue of
// Jinja2's StrictUndefined).
func renderTemplate(name, raw string, ctx map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return buf.String(), nil
}
