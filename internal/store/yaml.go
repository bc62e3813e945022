package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ImportYAML saves every record in a devices document. Records are
// validated up front so a bad entry stores nothing.
func (r *Repository) ImportYAML(ctx context.Context, in io.Reader) (int, error) {
	var file File
	decoder := yaml.NewDecoder(in)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("decode devices yaml: %w", err)
	}

	for i, rec := range file.Devices {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("devices[%d]: %w", i, err)
		}
	}
	for _, rec := range file.Devices {
		if _, err := r.Save(ctx, rec); err != nil {
			return 0, err
		}
	}
	return len(file.Devices), nil
}

// ImportFile imports a devices document from disk.
func (r *Repository) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.ImportYAML(ctx, f)
}

// ExportYAML writes every stored record as a devices document.
func (r *Repository) ExportYAML(ctx context.Context, out io.Writer) error {
	records, err := r.List(ctx)
	if err != nil {
		return err
	}
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(File{Devices: records}); err != nil {
		return fmt.Errorf("encode devices yaml: %w", err)
	}
	return encoder.Close()
}
