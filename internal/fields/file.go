package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const catalogSchemaURL = "catalog.schema.json"

const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["fields"],
  "properties": {
    "variant": {"type": "string"},
    "fields": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
          "description": {"type": "string"},
          "group": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func fileSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(catalogSchemaURL, strings.NewReader(catalogSchema)); err != nil {
			compileErr = err
			return
		}
		compiledSchema, compileErr = compiler.Compile(catalogSchemaURL)
	})
	return compiledSchema, compileErr
}

type catalogFile struct {
	Variant string       `json:"variant"`
	Fields  []Descriptor `json:"fields"`
}

// LoadFile reads a YAML (or JSON) catalog:
//
//	variant: dispatch_min
//	fields:
//	  - name: incident_location
//	    description: Address or description of incident location.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("empty catalog file")
	}
	return Parse(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// Parse validates a catalog document and builds the catalog. defaultVariant
// names the catalog when the document does not.
func Parse(data []byte, defaultVariant string) (*Catalog, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	// Round-trip through JSON so the validator sees float64/string/map
	// values instead of yaml's int and time types.
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	var generic any
	if err := json.Unmarshal(asJSON, &generic); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	schema, err := fileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	var parsed catalogFile
	if err := json.Unmarshal(asJSON, &parsed); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	variant := strings.TrimSpace(parsed.Variant)
	if variant == "" {
		variant = defaultVariant
	}
	return New(variant, parsed.Fields)
}

// Manager serves the active catalog. When backed by a file it reloads the
// file whenever its modification time advances and keeps the last good
// catalog if a reload fails.
type Manager struct {
	path     string
	log      *zap.Logger
	mu       sync.RWMutex
	cat      *Catalog
	lastLoad time.Time
}

// NewManager loads path when set, otherwise the built-in variant.
func NewManager(path, variant string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{path: strings.TrimSpace(path), log: log}
	if m.path == "" {
		cat, err := Default(variant)
		if err != nil {
			return nil, err
		}
		m.cat = cat
		return m, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return nil, fmt.Errorf("field catalog %s: %w", m.path, err)
	}
	cat, err := LoadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("field catalog %s: %w", m.path, err)
	}
	m.cat = cat
	m.lastLoad = info.ModTime()
	return m, nil
}

// Current returns the active catalog.
func (m *Manager) Current() *Catalog {
	m.reload()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cat
}

func (m *Manager) reload() {
	if m.path == "" {
		return
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	m.mu.RLock()
	stale := info.ModTime().After(m.lastLoad)
	m.mu.RUnlock()
	if !stale {
		return
	}
	cat, err := LoadFile(m.path)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLoad = info.ModTime()
	if err != nil {
		m.log.Warn("field catalog reload failed; keeping previous catalog", zap.String("path", m.path), zap.Error(err))
		return
	}
	m.cat = cat
	m.log.Info("field catalog reloaded", zap.String("path", m.path), zap.String("variant", cat.Variant()), zap.Int("fields", cat.Len()))
}
