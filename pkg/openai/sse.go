package openai

import (
	"encoding/json"
	"fmt"
	"io"
)

// DoneFrame terminates a stream.
const DoneFrame = "data: [DONE]\n\n"

// WriteEvent writes v as one server-sent event frame.
func WriteEvent(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// WriteDone writes the stream terminator.
func WriteDone(w io.Writer) error {
	_, err := io.WriteString(w, DoneFrame)
	return err
}
