package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONLExporter writes one message per line.
type JSONLExporter struct{}

func (e *JSONLExporter) Export(t *Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, msg := range t.Messages {
		obj := map[string]interface{}{
			"chat":    t.ID,
			"id":      msg.ID,
			"role":    msg.Role,
			"content": msg.Content,
		}
		if !msg.Timestamp.IsZero() {
			obj["timestamp"] = msg.Timestamp
		}
		if msg.Error != "" {
			obj["error"] = msg.Error
		}
		if msg.ModelID != "" {
			obj["model"] = msg.ModelID
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
		}
	}
	return nil
}

func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
