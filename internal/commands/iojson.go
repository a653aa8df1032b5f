package commands

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeLine writes v as a single JSON line.
func writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
