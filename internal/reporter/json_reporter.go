package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteJSON encodes the report as indented JSON.
func WriteJSON(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(report)
}

// WriteJSONReport writes the report to outputPath, creating its directory if needed.
func WriteJSONReport(report *Report, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create report %s: %w", outputPath, err)
	}
	if err := WriteJSON(f, report); err != nil {
		f.Close()
		return fmt.Errorf("write report %s: %w", outputPath, err)
	}
	return f.Close()
}
