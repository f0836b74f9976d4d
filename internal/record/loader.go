package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// LoadDir reads every non-hidden *.json file in dir, normalizes each record
// and tags it with its source file. A file that fails to read or parse is
// logged and skipped; the load carries on with the remaining files. A
// missing directory is an empty load, not an error.
func LoadDir(dir string, logger zerolog.Logger) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("dir", dir).Msg("data directory does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("read data directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	logger.Info().Int("files", len(names)).Str("dir", dir).Msg("loading records")

	var records []Record
	for _, name := range names {
		loaded, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Error().Err(err).Str("file", name).Msg("skipping unreadable file")
			continue
		}
		for _, rec := range loaded {
			rec = Normalize(rec)
			rec[FieldSourceFile] = name
			records = append(records, rec)
		}
	}
	logger.Info().Int("records", len(records)).Msg("records loaded")
	return records, nil
}

func loadFile(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	switch v := doc.(type) {
	case map[string]any:
		return []Record{Record(v)}, nil
	case []any:
		records := make([]Record, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is not an object", i)
			}
			records = append(records, Record(obj))
		}
		return records, nil
	default:
		return nil, fmt.Errorf("expected object or array, got %T", doc)
	}
}
