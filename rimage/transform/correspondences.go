package transform

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadCorrespondences reads a JSON array of {"left": {"X":..,"Y":..}, "right": {...}} records.
func ReadCorrespondences(path string) ([]Correspondence, error) {
	var corrs []Correspondence
	if err := readJSONFile(path, &corrs); err != nil {
		return nil, err
	}
	return corrs, nil
}

// ReadWorldCorrespondences reads a JSON array of {"world": {"X","Y","Z"}, "image": {"X","Y"}} records.
func ReadWorldCorrespondences(path string) ([]WorldCorrespondence, error) {
	var corrs []WorldCorrespondence
	if err := readJSONFile(path, &corrs); err != nil {
		return nil, err
	}
	return corrs, nil
}

func readJSONFile(path string, v interface{}) error {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return errors.Wrapf(err, "error parsing JSON file %q", path)
	}
	return nil
}
