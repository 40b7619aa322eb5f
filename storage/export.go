package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"helix/config"
	"helix/domain"
)

// Transcript is the on-disk export of a session and its active sequence.
type Transcript struct {
	ExportedAt time.Time                `json:"exportedAt"`
	Session    *domain.Session          `json:"session"`
	Sequence   *domain.OutreachSequence `json:"sequence,omitempty"`
}

// SanitizeFilename removes or replaces characters that are invalid in filenames
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-", "\"", "-",
		"<", "-", ">", "-", "|", "-", " ", "-", "\n", "-", "\r", "-",
	)
	name = replacer.Replace(name)

	// Remove leading/trailing hyphens and dots
	name = strings.Trim(name, "-.")

	if len(name) > 50 {
		name = name[:50]
	}

	if name == "" {
		name = "session"
	}

	return name
}

// GenerateExportPath generates a default export path in the Downloads directory.
// The name is usually the active sequence's name.
func GenerateExportPath(name string) string {
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("helix-session-%s-%s.json", SanitizeFilename(name), timestamp)
	return filepath.Join(config.GetDownloadsDir(), filename)
}

// ExportTranscript writes t as indented JSON to exportPath
func ExportTranscript(t Transcript, exportPath string) error {
	if t.Session == nil {
		return fmt.Errorf("no session to export")
	}
	if t.ExportedAt.IsZero() {
		t.ExportedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	// Ensure directory exists (0700 - user-only access)
	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// 0600 - transcripts contain conversation content
	if err := os.WriteFile(exportPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
