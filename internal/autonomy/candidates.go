package autonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource reads scored candidates from a JSON file: an array of
// candidate objects maintained by an external scorer. Missing files are
// not an error; they read as an empty batch.
type FileSource struct {
	name string
	path string
}

func NewFileSource(name, path string) *FileSource {
	return &FileSource{name: name, path: path}
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Fetch(ctx context.Context, limit int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read candidates file: %w", err)
	}

	var candidates []Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("decode candidates file %s: %w", s.path, err)
	}
	for i := range candidates {
		if candidates[i].Source == "" {
			candidates[i].Source = s.name
		}
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
