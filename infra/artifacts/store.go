// Package artifacts persists trained range models together with the
// preprocessing state they were trained with.
//
// A bundle directory holds four files: model.gob, scaler_x.json,
// scaler_y.json and manifest.json. Each carries the same fingerprint and
// Load refuses bundles whose files disagree.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilianp07/evrange/core/dataset"
	"github.com/kilianp07/evrange/core/nn"
	"github.com/kilianp07/evrange/core/training"
	"github.com/kilianp07/evrange/infra/logger"
)

const (
	ModelFile    = "model.gob"
	FeatureFile  = "scaler_x.json"
	TargetFile   = "scaler_y.json"
	ManifestFile = "manifest.json"
	latestFile   = "LATEST"

	manifestVersion = 1
)

// ErrFingerprintMismatch is returned when the files of a bundle were not
// produced by the same training run.
var ErrFingerprintMismatch = errors.New("artifact fingerprint mismatch")

// Manifest describes a bundle.
type Manifest struct {
	Version        int                     `json:"version"`
	RunID          string                  `json:"run_id"`
	CreatedAt      time.Time               `json:"created_at"`
	Fingerprint    string                  `json:"fingerprint"`
	Schema         []string                `json:"schema"`
	Architecture   nn.Architecture         `json:"architecture"`
	SequenceLength int                     `json:"sequence_length"`
	Processor      dataset.ProcessorConfig `json:"processor"`
	BestEpoch      int                     `json:"best_epoch"`
	BestValLoss    float64                 `json:"best_val_loss"`
	TestRMSEKm     float64                 `json:"test_rmse_km,omitempty"`
}

type scalerFile struct {
	Fingerprint string          `json:"fingerprint"`
	Scaler      *dataset.Scaler `json:"scaler"`
}

// Bundle is a loaded, verified artifact set.
type Bundle struct {
	Model     *nn.RangeModel
	Processor *dataset.Processor
	Manifest  Manifest
}

// Fingerprint identifies the input contract of a model: the ordered feature
// schema, the network shape and the window length.
func Fingerprint(schema []string, arch nn.Architecture, seqLen int) string {
	h := sha256.New()
	fmt.Fprintf(h, "schema=%s\n", strings.Join(schema, ","))
	fmt.Fprintf(h, "arch=%d/%d/%d/%g\n", arch.InputDim, arch.HiddenDim, arch.NumLayers, arch.Dropout)
	fmt.Fprintf(h, "seq_len=%d\n", seqLen)
	return hex.EncodeToString(h.Sum(nil))
}

// Store writes bundles below Dir, one subdirectory per run.
type Store struct {
	Dir string
	log logger.Logger
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, log: logger.New("artifacts")}
}

// Save implements training.ArtifactWriter.
func (s *Store) Save(runID string, res *training.Result, proc *dataset.Processor) (string, error) {
	if res == nil || res.Model == nil {
		return "", fmt.Errorf("save %s: no model", runID)
	}
	if !proc.Fitted() {
		return "", fmt.Errorf("save %s: %w", runID, dataset.ErrScalerNotFitted)
	}
	dir := filepath.Join(s.Dir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	arch := res.Model.Architecture()
	fp := Fingerprint(proc.Schema(), arch, proc.SequenceLength())
	man := Manifest{
		Version:        manifestVersion,
		RunID:          runID,
		CreatedAt:      time.Now().UTC(),
		Fingerprint:    fp,
		Schema:         proc.Schema(),
		Architecture:   arch,
		SequenceLength: proc.SequenceLength(),
		Processor:      proc.Config(),
		BestEpoch:      res.BestEpoch,
		BestValLoss:    res.BestValLoss,
	}
	if res.HasKm {
		man.TestRMSEKm = res.TestRMSEKm
	}

	f, err := os.Create(filepath.Join(dir, ModelFile))
	if err != nil {
		return "", err
	}
	if err := res.Model.SaveWeights(f, fp); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write weights: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, FeatureFile), scalerFile{fp, proc.FeatureScaler()}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, TargetFile), scalerFile{fp, proc.TargetScaler()}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, ManifestFile), man); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.Dir, latestFile), []byte(runID+"\n"), 0o644); err != nil {
		return "", err
	}
	s.log.Infof("saved bundle %s (fingerprint %s)", dir, fp[:12])
	return dir, nil
}

// Latest returns the directory of the most recently saved bundle.
func (s *Store) Latest() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.Dir, latestFile))
	if err != nil {
		return "", fmt.Errorf("no saved bundle in %s: %w", s.Dir, err)
	}
	return filepath.Join(s.Dir, strings.TrimSpace(string(b))), nil
}

// Load reads and verifies the bundle in dir.
func Load(dir string) (*Bundle, error) {
	var man Manifest
	if err := readJSON(filepath.Join(dir, ManifestFile), &man); err != nil {
		return nil, err
	}
	if man.Version != manifestVersion {
		return nil, fmt.Errorf("manifest version %d not supported", man.Version)
	}
	if want := Fingerprint(man.Schema, man.Architecture, man.SequenceLength); want != man.Fingerprint {
		return nil, fmt.Errorf("%w: manifest content does not match its fingerprint", ErrFingerprintMismatch)
	}

	f, err := os.Open(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	model, tag, err := nn.LoadModel(f, 0)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	if tag != man.Fingerprint {
		return nil, fmt.Errorf("%w: %s", ErrFingerprintMismatch, ModelFile)
	}
	if model.Architecture() != man.Architecture {
		return nil, fmt.Errorf("%w: %s architecture", ErrFingerprintMismatch, ModelFile)
	}

	var x, y scalerFile
	if err := readJSON(filepath.Join(dir, FeatureFile), &x); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, TargetFile), &y); err != nil {
		return nil, err
	}
	if x.Fingerprint != man.Fingerprint {
		return nil, fmt.Errorf("%w: %s", ErrFingerprintMismatch, FeatureFile)
	}
	if y.Fingerprint != man.Fingerprint {
		return nil, fmt.Errorf("%w: %s", ErrFingerprintMismatch, TargetFile)
	}

	cfg := man.Processor
	cfg.SequenceLength = man.SequenceLength
	proc := dataset.NewProcessor(cfg, logger.New("processor"))
	if err := proc.Restore(man.Schema, x.Scaler, y.Scaler); err != nil {
		return nil, fmt.Errorf("restore processor: %w", err)
	}
	return &Bundle{Model: model, Processor: proc, Manifest: man}, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
