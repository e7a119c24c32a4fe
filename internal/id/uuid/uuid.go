// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// WorkerID names a worker instance as "<host>-<8 hex chars>". The suffix is
// taken from the random tail of a UUID7 so restarts on one host stay distinct.
func (g Generator) WorkerID(host string) (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	suffix := strings.ReplaceAll(id, "-", "")
	suffix = suffix[len(suffix)-8:]
	host = strings.TrimSpace(host)
	if host == "" {
		host = "worker"
	}
	return host + "-" + suffix, nil
}
