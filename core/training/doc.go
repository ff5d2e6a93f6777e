// Package training fits a RangeModel on preprocessed windows.
//
// A Trainer runs seeded mini-batch Adam with global gradient-norm clipping,
// evaluates on the validation windows after every epoch and stops early once
// the validation loss has not improved for Patience epochs. Run chains the
// whole offline pipeline: preprocessing, split, fit, artifact persistence, run
// history and loss curves.
package training
