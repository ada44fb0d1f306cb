package artifact

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SanteonNL/noshow/cmd/noshow/features"
	"github.com/SanteonNL/noshow/cmd/noshow/model"
	"github.com/SanteonNL/noshow/util"
)

const (
	EncodersFile = "label_encoders.json"
	ModelFile    = "decision_tree_model.gob"
	FeaturesFile = "model_features.json"
)

// ErrInconsistent is returned when the three artifacts do not belong together.
var ErrInconsistent = errors.New("inconsistent model artifacts")

// Bundle is the fitted model with the encoders and feature order it was
// trained with. It is loaded once and then only read.
type Bundle struct {
	Model    *model.DecisionTreeClassifier
	Encoders features.Encoders
	Features []string
}

// Validate checks that the model, encoders and schema agree.
func (b *Bundle) Validate() error {
	if b.Model == nil || b.Model.Root == nil {
		return fmt.Errorf("%w: model is not fitted", ErrInconsistent)
	}
	if len(b.Features) == 0 {
		return fmt.Errorf("%w: feature list is empty", ErrInconsistent)
	}
	if b.Model.NFeatures != len(b.Features) {
		return fmt.Errorf("%w: model expects %d features, schema lists %d",
			ErrInconsistent, b.Model.NFeatures, len(b.Features))
	}

	seen := make(map[string]struct{}, len(b.Features))
	for _, f := range b.Features {
		if _, dup := seen[f]; dup {
			return fmt.Errorf("%w: feature %s listed twice", ErrInconsistent, f)
		}
		seen[f] = struct{}{}
	}
	for col, enc := range b.Encoders {
		if _, ok := seen[col]; !ok {
			return fmt.Errorf("%w: encoder for %s which is not a feature", ErrInconsistent, col)
		}
		if enc == nil || len(enc.Classes) == 0 {
			return fmt.Errorf("%w: encoder for %s has no classes", ErrInconsistent, col)
		}
	}
	return nil
}

// Save writes the three artifact files into dir.
func (b *Bundle) Save(dir string) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, EncodersFile), b.Encoders); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, FeaturesFile), b.Features); err != nil {
		return err
	}

	path := filepath.Join(dir, ModelFile)
	file, err := util.CreateFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(b.Model); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Load reads and validates the three artifact files from dir.
func Load(dir string) (*Bundle, error) {
	b := &Bundle{}
	if err := readJSON(filepath.Join(dir, EncodersFile), &b.Encoders); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, FeaturesFile), &b.Features); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, ModelFile)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer file.Close()

	b.Model = &model.DecisionTreeClassifier{}
	if err := gob.NewDecoder(file).Decode(b.Model); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}
	if b.Encoders == nil {
		b.Encoders = features.Encoders{}
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func writeJSON(path string, v interface{}) error {
	file, err := util.CreateFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
