package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/flowchat/internal/validator"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"gopkg.in/yaml.v3"
)

// flowExtensions lists the accepted flow file extensions in lookup order.
var flowExtensions = []string{".yaml", ".yml", ".json"}

var schemaValidator = sync.OnceValues(validator.NewSchemaValidator)

// Loader implements ports.FlowLoader over a directory of flow documents.
// Each file holds one flow; the file name without extension is the flow id.
type Loader struct {
	Dir string

	strict bool
}

var _ ports.FlowLoader = (*Loader)(nil)

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithoutValidation skips schema and graph validation on load.
func WithoutValidation() LoaderOption {
	return func(l *Loader) {
		l.strict = false
	}
}

// NewLoader creates a Loader reading flows from dir.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{Dir: dir, strict: true}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) find(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %s", domain.ErrFlowNotFound, id)
	}
	for _, ext := range flowExtensions {
		path := filepath.Join(l.Dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrFlowNotFound, id)
}

// GetFlow reads, validates and decodes the flow with the given id.
func (l *Loader) GetFlow(id string) (*domain.Flow, error) {
	path, err := l.find(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow %s: %w", id, err)
	}
	return l.decode(id, path, data)
}

func (l *Loader) decode(id, path string, data []byte) (*domain.Flow, error) {
	if filepath.Ext(path) != ".json" {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &domain.ValidationError{Field: path, Reason: fmt.Sprintf("invalid YAML: %v", err)}
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, &domain.ValidationError{Field: path, Reason: fmt.Sprintf("flow is not JSON-compatible: %v", err)}
		}
		data = converted
	}

	if l.strict {
		v, err := schemaValidator()
		if err != nil {
			return nil, err
		}
		if err := v.ValidateJSON(data); err != nil {
			return nil, fmt.Errorf("flow %s: %w", id, err)
		}
	}

	var flow domain.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", id, err)
	}
	if flow.ID == "" {
		flow.ID = id
	}
	if flow.ID != id {
		return nil, &domain.ValidationError{Field: path, Reason: fmt.Sprintf("flow id %q does not match file name %q", flow.ID, id)}
	}

	if l.strict {
		if err := validator.ValidateFlow(&flow); err != nil {
			return nil, fmt.Errorf("flow %s: %w", id, err)
		}
	}
	return &flow, nil
}

// ListFlows returns the ids of the flow files in the directory, sorted.
func (l *Loader) ListFlows() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	seen := make(map[string]bool)
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || strings.HasPrefix(name, ".") || !slices.Contains(flowExtensions, ext) {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
