package export

import (
	"encoding/json"
	"io"
)

// JSONExporter writes the transcript as one indented document.
type JSONExporter struct{}

func (e *JSONExporter) Export(t *Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func (e *JSONExporter) Extension() string {
	return "json"
}
