package sync

import (
	"encoding/json"
	"os"
)

// State tracks what has been published so far
type State struct {
	// Commit is the last head revision successfully mirrored to every
	// configured remote; it is the base of the next change-set resolution.
	Commit string `json:"commit"`
	// Published maps a content file (relative to the repo root) to the
	// head commit at which it was last published.
	Published map[string]string `json:"published_files"`
}

// LoadState reads the publish state from path. A missing file yields a
// fresh state with an empty commit.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Published: make(map[string]string)}, nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Published == nil {
		state.Published = make(map[string]string)
	}

	return &state, nil
}
