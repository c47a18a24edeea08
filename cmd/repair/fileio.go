package main

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
)

// load reads the whole file at path.
func load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load failed: %w", err)
	}
	return data, nil
}

// store writes data to path, creating or truncating it.
func store(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	n, err := f.Write(data)
	if err != nil {
		return fmt.Errorf("store failed: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("store failed: wrote %d of %d bytes", n, len(data))
	}
	return nil
}
