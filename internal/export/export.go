package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/twbeatles/dupescan/internal/telemetry"
)

// Meta is the header block of a v2 result payload
type Meta struct {
	ScanStatus  string            `json:"scan_status"`
	Metrics     telemetry.Metrics `json:"metrics"`
	Warnings    []string          `json:"warnings"`
	ConfigHash  string            `json:"config_hash"`
	SessionID   string            `json:"session_id"`
	Groups      int               `json:"groups"`
	Files       int               `json:"files"`
	Folders     int               `json:"folders"`
	GeneratedAt time.Time         `json:"generated_at"`
	Source      string            `json:"source"`
}

// Payload is the versioned export envelope. Results map encoded group
// keys to their member paths.
type Payload struct {
	Meta    Meta                `json:"meta"`
	Results map[string][]string `json:"results"`
}

// Build assembles a payload from a finished scan. Folder groups are
// counted separately in the meta block.
func Build(sessionID, status, configHash string, metrics telemetry.Metrics, warnings []string, results map[string][]string) *Payload {
	files := 0
	folders := 0
	for key, members := range results {
		files += len(members)
		if strings.HasPrefix(key, "folder:") {
			folders++
		}
	}

	if warnings == nil {
		warnings = []string{}
	}

	return &Payload{
		Meta: Meta{
			ScanStatus:  status,
			Metrics:     metrics,
			Warnings:    warnings,
			ConfigHash:  configHash,
			SessionID:   sessionID,
			Groups:      len(results),
			Files:       files,
			Folders:     folders,
			GeneratedAt: time.Now().UTC(),
			Source:      "dupescan",
		},
		Results: results,
	}
}

// WriteFile writes the payload as indented JSON, creating parent
// directories as needed. The write goes through a temp file and rename
// so a crash never leaves a truncated export behind.
func WriteFile(path string, payload *Payload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize export: %w", err)
	}
	return nil
}

// ReadFile loads a result payload, accepting both the v2 envelope and
// the legacy flat {key: [paths]} shape. Legacy payloads come back with
// a zero-valued meta block and source "legacy".
func ReadFile(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a payload from raw JSON, sniffing the shape
func Parse(data []byte) (*Payload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	_, hasMeta := probe["meta"]
	_, hasResults := probe["results"]
	if hasMeta && hasResults {
		var payload Payload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse results: %w", err)
		}
		if payload.Results == nil {
			payload.Results = map[string][]string{}
		}
		return &payload, nil
	}

	// Legacy flat map: every value must be a list of paths
	results := make(map[string][]string, len(probe))
	for key, raw := range probe {
		var members []string
		if err := json.Unmarshal(raw, &members); err != nil {
			return nil, fmt.Errorf("failed to parse legacy results: group %q is not a path list: %w", key, err)
		}
		results[key] = members
	}
	return &Payload{
		Meta:    Meta{Source: "legacy"},
		Results: results,
	}, nil
}

// SortedKeys returns the payload's group keys in stable order
func (p *Payload) SortedKeys() []string {
	keys := make([]string, 0, len(p.Results))
	for key := range p.Results {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
