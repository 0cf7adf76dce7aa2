package data

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Dataset is the on-disk layout of a capture session.
type Dataset struct {
	Robot   string   `json:"robot,omitempty" yaml:"robot,omitempty"`
	Samples []Sample `json:"samples" yaml:"samples"`
}

// LoadSamples reads a dataset from a .json, .yaml or .yml file.
func LoadSamples(path string) ([]Sample, error) {
	//nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read dataset")
	}
	ds := &Dataset{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(raw, ds)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, ds)
	default:
		return nil, errors.Errorf("unsupported dataset extension %q", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dataset %s", path)
	}
	return ds.Samples, nil
}

// SaveSamples writes samples in the format selected by the file extension.
func SaveSamples(path string, samples []Sample) error {
	ds := &Dataset{Samples: samples}
	var (
		raw []byte
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		raw, err = json.MarshalIndent(ds, "", "  ")
	case ".yaml", ".yml":
		raw, err = yaml.Marshal(ds)
	default:
		return errors.Errorf("unsupported dataset extension %q", ext)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
