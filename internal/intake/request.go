package intake

import (
	"bytes"
	"encoding/json"
	"fmt"

	"clipmill/internal/batch"
)

// Request is the JSON message producers push onto the intake queue.
type Request struct {
	Paths   []string      `json:"paths"`
	Options batch.Options `json:"options"`
}

func ParseRequest(raw string) (Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("invalid batch request: %w", err)
	}
	if len(req.Paths) == 0 {
		return Request{}, fmt.Errorf("invalid batch request: paths is required")
	}
	return req, nil
}

func (r Request) Encode() (string, error) {
	b, err := json.Marshal(r)
	return string(b), err
}
