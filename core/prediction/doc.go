// Package prediction turns a trained range model and its fitted preprocessing
// into a remaining-range predictor. Requests carry named telemetry rows; the
// engine resolves fields by the fitted schema, never refits any scaler and
// runs the network in evaluation mode, so a single Engine can serve
// concurrent callers.
package prediction
