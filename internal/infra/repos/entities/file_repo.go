package entities

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmrzaf/listmat/internal/domain"
)

// FileRepository loads entity-type column metadata from YAML or JSON files in
// one directory.
type FileRepository struct {
	baseDir string
}

func NewFileRepository(baseDir string) *FileRepository {
	return &FileRepository{baseDir: baseDir}
}

func (r *FileRepository) List() ([]*domain.EntityType, error) {
	if _, err := os.Stat(r.baseDir); os.IsNotExist(err) {
		return []*domain.EntityType{}, nil
	}

	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.EntityType, 0)
	for _, entry := range entries {
		if entry.IsDir() || !isEntityFile(entry.Name()) {
			continue
		}
		et, err := r.load(filepath.Join(r.baseDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		out = append(out, et)
	}
	return out, nil
}

func (r *FileRepository) Get(name string) (*domain.EntityType, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, et := range all {
		if et.Name == name {
			return et, nil
		}
	}
	return nil, fmt.Errorf("entity type %s: %w", name, domain.ErrNotFound)
}

// GetByPath loads one file. Relative paths resolve against the base directory
// and the result must stay inside it.
func (r *FileRepository) GetByPath(path string) (*domain.EntityType, error) {
	base, err := filepath.Abs(r.baseDir)
	if err != nil {
		return nil, err
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("entity file %s is outside %s", path, r.baseDir)
	}
	return r.load(full)
}

func (r *FileRepository) load(path string) (*domain.EntityType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var et domain.EntityType
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &et)
	} else {
		err = yaml.Unmarshal(data, &et)
	}
	if err != nil {
		return nil, err
	}

	if et.Name == "" {
		et.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if et.Table == "" {
		et.Table = et.Name
	}
	if et.IDColumn == "" {
		et.IDColumn = "id"
	}
	for i := range et.Columns {
		if et.Columns[i].Label == "" {
			et.Columns[i].Label = et.Columns[i].Name
		}
	}
	return &et, nil
}

func isEntityFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
