// Package store keeps the volumes of a study workspace on disk, one file
// per timepoint and role.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"colonictransit/internal/models"
)

const ext = ".cvol"

// ErrNotFound is returned when no volume is stored for a timepoint and role
var ErrNotFound = errors.New("volume not found")

// Store is a directory of volume files laid out as <root>/<timepoint>/<role>.cvol
type Store struct {
	root string
	log  logrus.FieldLogger
}

// Open creates root if needed and returns a Store rooted there
func Open(root string, log logrus.FieldLogger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("error creating workspace: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		root: root,
		log:  log.WithField("workspace", root),
	}, nil
}

// Root returns the workspace directory
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(timepoint string, role models.Role) string {
	return filepath.Join(s.root, timepoint, string(role)+ext)
}

// Put writes v for timepoint and role, replacing any previous file
func (s *Store) Put(timepoint string, role models.Role, v *models.Volume) error {
	dir := filepath.Join(s.root, timepoint)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating timepoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+string(role)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, v); err != nil {
		tmp.Close()
		return fmt.Errorf("error encoding %s: %w", v.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	target := s.path(timepoint, role)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("error storing %s: %w", v.Name, err)
	}

	if info, err := os.Stat(target); err == nil {
		s.log.WithFields(logrus.Fields{
			"timepoint": timepoint,
			"role":      role,
			"volume":    v.Name,
			"size":      humanize.Bytes(uint64(info.Size())),
		}).Debug("stored volume")
	}
	return nil
}

// Get reads the volume for timepoint and role
func (s *Store) Get(timepoint string, role models.Role) (*models.Volume, error) {
	f, err := os.Open(s.path(timepoint, role))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, timepoint, role)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s/%s: %w", timepoint, role, err)
	}
	return v, nil
}

// Has reports whether a volume is stored for timepoint and role
func (s *Store) Has(timepoint string, role models.Role) bool {
	_, err := os.Stat(s.path(timepoint, role))
	return err == nil
}

// Delete removes the volume for timepoint and role; a missing file is not an error
func (s *Store) Delete(timepoint string, role models.Role) error {
	err := os.Remove(s.path(timepoint, role))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the stored roles per timepoint
func (s *Store) List() (map[string][]models.Role, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.Role)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, e.Name()))
		if err != nil {
			return nil, err
		}
		var roles []models.Role
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ext {
				continue
			}
			roles = append(roles, models.Role(strings.TrimSuffix(name, ext)))
		}
		if len(roles) > 0 {
			sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
			out[e.Name()] = roles
		}
	}
	return out, nil
}
