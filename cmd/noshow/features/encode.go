package features

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/exp/slices"
)

var (
	// ErrUnknownCategory is returned when a value was not seen while fitting.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUnknownCode is returned when decoding a code outside the fitted range.
	ErrUnknownCode = errors.New("unknown code")
)

// UnknownCategoryError identifies the column and value that was rejected.
type UnknownCategoryError struct {
	Column string
	Value  string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q for column %s", e.Value, e.Column)
}

func (e *UnknownCategoryError) Unwrap() error { return ErrUnknownCategory }

// LabelEncoder maps category strings to integer codes. Classes are sorted, so
// a category's code is its position in Classes.
type LabelEncoder struct {
	Column  string   `json:"column"`
	Classes []string `json:"classes"`
}

// FitLabelEncoder learns the distinct values of a column.
func FitLabelEncoder(column string, values []string) *LabelEncoder {
	classes := slices.Clone(values)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	return &LabelEncoder{Column: column, Classes: classes}
}

// Code returns the code of a single value.
func (e *LabelEncoder) Code(value string) (int, error) {
	code := sort.SearchStrings(e.Classes, value)
	if code == len(e.Classes) || e.Classes[code] != value {
		return 0, &UnknownCategoryError{Column: e.Column, Value: value}
	}
	return code, nil
}

// Transform encodes values, failing on the first unseen category.
func (e *LabelEncoder) Transform(values []string) ([]int, error) {
	out := make([]int, len(values))
	for i, v := range values {
		code, err := e.Code(v)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out[i] = code
	}
	return out, nil
}

// InverseTransform decodes codes back to their categories.
func (e *LabelEncoder) InverseTransform(codes []int) ([]string, error) {
	out := make([]string, len(codes))
	for i, c := range codes {
		if c < 0 || c >= len(e.Classes) {
			return nil, fmt.Errorf("%w %d for column %s", ErrUnknownCode, c, e.Column)
		}
		out[i] = e.Classes[c]
	}
	return out, nil
}

// Encoders holds one fitted encoder per categorical column.
type Encoders map[string]*LabelEncoder

// Has reports whether column is categorical.
func (enc Encoders) Has(column string) bool {
	_, ok := enc[column]
	return ok
}

// Columns returns the encoded column names in sorted order.
func (enc Encoders) Columns() []string {
	cols := make([]string, 0, len(enc))
	for col := range enc {
		cols = append(cols, col)
	}
	slices.Sort(cols)
	return cols
}
