// Package dataset turns BMS telemetry tables into scaled, fixed-length
// windows for the range model.
//
// A Processor is fitted once on training data (Preprocess) and afterwards
// only applies the fitted feature and target scalers (TransformOnly,
// TransformRows). Columns are resolved by name through the feature schema
// recorded at fit time.
package dataset
