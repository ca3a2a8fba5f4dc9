package storage

import (
	"context"
)

// Sink receives every artifact a run produces. Names are relative to the save directory.
type Sink interface {
	WriteFile(ctx context.Context, name string, data []byte) error
	Location(name string) string
}

// MultiSink writes to every sink in order and stops at the first failure.
type MultiSink []Sink

func (m MultiSink) WriteFile(ctx context.Context, name string, data []byte) error {
	for _, s := range m {
		if err := s.WriteFile(ctx, name, data); err != nil {
			return err
		}
	}
	return nil
}

// Location reports where the primary (first) sink put the file.
func (m MultiSink) Location(name string) string {
	if len(m) == 0 {
		return name
	}
	return m[0].Location(name)
}
