package mock

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// ImportResult reports the outcome of a batch import.
type ImportResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// exportDocument is the on-the-wire shape for import/export.
type exportDocument struct {
	Mocks []*Mock `json:"mocks" yaml:"mocks"`
}

// Export serializes all mocks for a proxy. Format is "yaml" or "json".
// Every mock passes through Normalize via its marshaller, so legacy
// metadata is healed on the way out.
func (s *Store) Export(port int, format string) ([]byte, error) {
	doc := exportDocument{Mocks: s.List(port)}
	for _, m := range doc.Mocks {
		m.Normalize()
	}
	if format == "yaml" {
		return yaml.Marshal(doc)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Import loads a batch of mock descriptors into a proxy's store. Malformed
// entries are skipped and reported, not fatal: one bad descriptor must not
// abort the batch. Accepts either the export document shape or a bare array.
func (s *Store) Import(port int, data []byte, format string, log *slog.Logger) (*ImportResult, error) {
	var doc exportDocument
	var unmarshal func([]byte, any) error
	if format == "yaml" {
		unmarshal = yaml.Unmarshal
	} else {
		unmarshal = json.Unmarshal
	}

	if err := unmarshal(data, &doc); err != nil || len(doc.Mocks) == 0 {
		var bare []*Mock
		if err2 := unmarshal(data, &bare); err2 != nil {
			if err == nil {
				err = err2
			}
			return nil, fmt.Errorf("parse import document: %w", err)
		}
		doc.Mocks = bare
	}

	res := &ImportResult{}
	for i, m := range doc.Mocks {
		if m == nil || m.Key == "" {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("entry %d: missing key", i))
			continue
		}
		m.ProxyPort = port
		m.Normalize()
		if err := s.Add(m, true); err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("entry %d: %v", i, err))
			if log != nil {
				log.Warn("skipping malformed mock on import", "index", i, "error", err)
			}
			continue
		}
		res.Added++
	}
	return res, nil
}
