// Package dataset loads the dataset configuration files that map spreadsheet
// columns onto VIP attribute names.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Column names that are always present in a template and therefore cannot
// be mapped by a config.
const (
	ObjectTypeColumn = "objectType"
	IdentifierColumn = "identifier"
)

var ErrNotFound = errors.New("dataset not found")

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var extensions = []string{".json", ".yaml", ".yml"}

type Column struct {
	ExcelColumnName string `json:"excelColumnName" yaml:"excelColumnName"`
	AttributeName   string `json:"AttributeName" yaml:"attributeName"`
}

type Config struct {
	Key        string   `json:"key" yaml:"-"`
	Dataset    string   `json:"dataset" yaml:"dataset"`
	ObjectType string   `json:"objectType" yaml:"objectType"`
	Attributes []Column `json:"attributes" yaml:"attributes"`
}

// Validate checks the config for the mistakes that would otherwise only
// surface as a broken template.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Dataset) == "" {
		errs = append(errs, errors.New("dataset name is empty"))
	}
	if strings.TrimSpace(c.ObjectType) == "" {
		errs = append(errs, errors.New("objectType is empty"))
	}
	if len(c.Attributes) == 0 {
		errs = append(errs, errors.New("no attributes configured"))
	}
	columns := map[string]bool{}
	attributes := map[string]bool{}
	for i, a := range c.Attributes {
		switch {
		case a.ExcelColumnName == "":
			errs = append(errs, fmt.Errorf("attribute %d: excelColumnName is empty", i))
		case a.ExcelColumnName == ObjectTypeColumn || a.ExcelColumnName == IdentifierColumn:
			errs = append(errs, fmt.Errorf("attribute %d: column name %q is reserved", i, a.ExcelColumnName))
		case columns[a.ExcelColumnName]:
			errs = append(errs, fmt.Errorf("attribute %d: duplicate column %q", i, a.ExcelColumnName))
		}
		columns[a.ExcelColumnName] = true

		switch {
		case a.AttributeName == "":
			errs = append(errs, fmt.Errorf("attribute %d: AttributeName is empty", i))
		case attributes[a.AttributeName]:
			errs = append(errs, fmt.Errorf("attribute %d: duplicate attribute %q", i, a.AttributeName))
		}
		attributes[a.AttributeName] = true
	}
	return errors.Join(errs...)
}

// AttributeNames returns the remote attribute names in column order.
func (c *Config) AttributeNames() []string {
	names := make([]string, len(c.Attributes))
	for i, a := range c.Attributes {
		names[i] = a.AttributeName
	}
	return names
}

// Loader reads dataset configs from a directory, one file per dataset.
type Loader struct {
	Dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

// Load reads the config for key, trying .json, .yaml and .yml in turn.
func (l *Loader) Load(key string) (*Config, error) {
	if !validKey.MatchString(key) {
		return nil, fmt.Errorf("invalid dataset key %q", key)
	}
	for _, ext := range extensions {
		path := filepath.Join(l.Dir, key+ext)
		b, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		c, err := parse(b, ext)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		c.Key = key
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid dataset config %s: %w", path, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// List loads every valid config in the directory. Invalid files are logged
// and skipped so one broken config does not hide the rest.
func (l *Loader) List() ([]*Config, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var configs []*Config
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isConfigExt(ext) {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ext)
		if seen[key] {
			continue
		}
		seen[key] = true
		c, err := l.Load(key)
		if err != nil {
			log.Warnf("Skipping dataset config %s: %v", e.Name(), err)
			continue
		}
		configs = append(configs, c)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Key < configs[j].Key })
	return configs, nil
}

func isConfigExt(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func parse(b []byte, ext string) (*Config, error) {
	var c Config
	if ext == ".json" {
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, err
		}
		return &c, nil
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
