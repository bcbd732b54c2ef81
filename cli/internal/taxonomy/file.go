// Extra taxonomy versions loaded from a YAML file.

package taxonomy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileSchema is the YAML layout of a taxonomy file:
//
//	versions:
//	  - version: "2029"
//	    categories:
//	      - code: A01
//	        label: "A01: Broken Access Control"
type fileSchema struct {
	Versions []Version `yaml:"versions"`
}

// ParseVersions decodes the YAML taxonomy document in data.
func ParseVersions(data []byte) ([]Version, error) {
	var doc fileSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("taxonomy file: %w", err)
	}
	return doc.Versions, nil
}

// LoadFile returns a registry holding the built-in versions plus those in
// the YAML file at path. A file version with a built-in key replaces the
// built-in table. An empty path yields Default().
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy file: %w", err)
	}
	extra, err := ParseVersions(data)
	if err != nil {
		return nil, err
	}
	return New(append(Builtin(), extra...)...)
}
