package accesskit

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileDocument is the YAML layout read by FileSource.
//
//	rules:
//	  - pattern: /admin/pay
//	    roles: [ROLE_ADMIN]
//	  - pattern: /admin/**
//	    method: GET
//	    roles: [ROLE_ADMIN, ROLE_MANAGER]
//	  - pattern: io.app.OrderService.order
//	    type: method
//	    roles: [ROLE_USER]
//	hierarchy:
//	  - ROLE_ADMIN > ROLE_MANAGER
//	  - ROLE_MANAGER > ROLE_USER
//	allowlist:
//	  - 127.0.0.1
//	  - 10.0.0.0/8
type FileDocument struct {
	Rules     []ResourceRule `yaml:"rules"`
	Hierarchy []string       `yaml:"hierarchy"`
	AllowList []string       `yaml:"allowlist"`
}

// FileSource reads rules, hierarchy and allow-list from a YAML file. The
// file is read on every load, so editing it and reloading picks up changes.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the file path.
func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) read() (*FileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var doc FileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return &doc, nil
}

// LoadRules implements RuleSource. Rules are returned in file order.
func (s *FileSource) LoadRules(ctx context.Context) ([]ResourceRule, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range doc.Rules {
		doc.Rules[i].Order = i
	}
	return doc.Rules, nil
}

// LoadHierarchy implements HierarchySource.
func (s *FileSource) LoadHierarchy(ctx context.Context) ([]RoleHierarchyEdge, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return ParseEdges(doc.Hierarchy)
}

// LoadAllowedAddresses implements AddressSource.
func (s *FileSource) LoadAllowedAddresses(ctx context.Context) ([]string, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.AllowList, nil
}

// WriteFile writes a rule set to path in the FileSource layout.
func WriteFile(path string, src *StaticSource) error {
	doc := FileDocument{
		Rules:     src.Rules,
		AllowList: src.Addresses,
	}
	for _, e := range src.Hierarchy {
		doc.Hierarchy = append(doc.Hierarchy, e.String())
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
