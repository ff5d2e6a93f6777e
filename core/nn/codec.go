package nn

import (
	"encoding/gob"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

const weightsVersion = 1

type weightsFile struct {
	Version int
	Arch    Architecture
	Tag     string
	Tensors []tensorBlob
}

type tensorBlob struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// SaveWeights writes parameters and running statistics as a versioned gob
// blob. tag is stored verbatim and returned by LoadWeights; callers use it to
// bind the weights to the preprocessing they were trained with.
func (m *RangeModel) SaveWeights(w io.Writer, tag string) error {
	f := weightsFile{Version: weightsVersion, Arch: m.arch, Tag: tag}
	for _, nt := range m.state() {
		r, c := nt.m.Dims()
		f.Tensors = append(f.Tensors, tensorBlob{
			Name: nt.name,
			Rows: r,
			Cols: c,
			Data: mat.DenseCopyOf(nt.m).RawMatrix().Data,
		})
	}
	if err := gob.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	return nil
}

// LoadWeights replaces the model state with a blob written by SaveWeights.
// The blob must come from a model with an identical Architecture.
func (m *RangeModel) LoadWeights(r io.Reader) (string, error) {
	f, err := decodeWeights(r)
	if err != nil {
		return "", err
	}
	if f.Arch != m.arch {
		return "", fmt.Errorf("%w: stored %+v, model %+v", ErrArchitectureMismatch, f.Arch, m.arch)
	}
	if err := m.apply(f.Tensors); err != nil {
		return "", err
	}
	return f.Tag, nil
}

// LoadModel builds a model from the architecture recorded in the blob and
// loads its weights.
func LoadModel(r io.Reader, seed int64) (*RangeModel, string, error) {
	f, err := decodeWeights(r)
	if err != nil {
		return nil, "", err
	}
	m, err := NewRangeModel(f.Arch, seed)
	if err != nil {
		return nil, "", fmt.Errorf("stored architecture: %w", err)
	}
	if err := m.apply(f.Tensors); err != nil {
		return nil, "", err
	}
	return m, f.Tag, nil
}

func decodeWeights(r io.Reader) (weightsFile, error) {
	var f weightsFile
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return f, fmt.Errorf("decode weights: %w", err)
	}
	if f.Version != weightsVersion {
		return f, fmt.Errorf("unsupported weights version %d", f.Version)
	}
	return f, nil
}

func (m *RangeModel) apply(tensors []tensorBlob) error {
	byName := make(map[string]tensorBlob, len(tensors))
	for _, t := range tensors {
		byName[t.Name] = t
	}
	state := m.state()
	if len(byName) != len(state) {
		return fmt.Errorf("%w: stored %d tensors, model has %d", ErrArchitectureMismatch, len(byName), len(state))
	}
	for _, nt := range state {
		t, ok := byName[nt.name]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrArchitectureMismatch, nt.name)
		}
		r, c := nt.m.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrArchitectureMismatch, nt.name, t.Rows, t.Cols, r, c)
		}
		nt.m.Copy(mat.NewDense(r, c, t.Data))
	}
	return nil
}
