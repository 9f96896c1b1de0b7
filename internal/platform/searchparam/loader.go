package searchparam

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a search parameter extension file:
//
//	parameters:
//	  - code: general-practitioner-name
//	    type: string
//	    base: [Patient]
//	    path: [generalPractitioner.display]
type File struct {
	Parameters []Definition `yaml:"parameters"`
}

// Decode reads an extension file.
func Decode(r io.Reader) ([]Definition, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode search parameters: %w", err)
	}
	return f.Parameters, nil
}

// LoadFile reads path and returns base extended with its definitions.
func LoadFile(base *Registry, path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read search parameters: %w", err)
	}
	defs, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	reg, err := base.Extend(defs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Encode writes defs in the extension file layout.
func Encode(w io.Writer, defs []*Definition) error {
	f := File{Parameters: make([]Definition, 0, len(defs))}
	for _, d := range defs {
		f.Parameters = append(f.Parameters, *d)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return err
	}
	return enc.Close()
}
