package study

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"colonictransit/pkg/store"
	"colonictransit/pkg/threshold"
)

const stateFile = "study.yaml"

// state is the part of a study that is not a volume
type state struct {
	CurrentView string                     `yaml:"currentView"`
	Thresholds  map[string]threshold.State `yaml:"thresholds"`
}

func (s *Study) saveState(st *store.Store) error {
	out := state{
		CurrentView: s.currentView,
		Thresholds:  make(map[string]threshold.State),
	}
	for _, tp := range s.timepoints {
		out.Thresholds[tp.Name] = tp.Threshold
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("error marshaling study state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(st.Root(), stateFile), data, 0644); err != nil {
		return fmt.Errorf("error writing study state: %w", err)
	}
	return nil
}

func (s *Study) loadState(st *store.Store) error {
	data, err := os.ReadFile(filepath.Join(st.Root(), stateFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading study state: %w", err)
	}
	var in state
	if err := yaml.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("error parsing study state: %w", err)
	}
	for _, tp := range s.timepoints {
		if th, ok := in.Thresholds[tp.Name]; ok {
			tp.Threshold = th
		}
	}
	if _, err := s.Timepoint(in.CurrentView); err == nil {
		s.currentView = in.CurrentView
	}
	return nil
}
