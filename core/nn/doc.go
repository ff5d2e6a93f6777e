// Package nn implements the range regression network and the numeric pieces it
// is built from: batch and layer normalization, a multi-layer LSTM encoder,
// residual feed-forward blocks, MSE loss, global gradient-norm clipping and the
// Adam optimizer.
//
// All tensors are gonum dense matrices. A mini-batch is stored time-major
// (one batch×features matrix per time step) so that every LSTM step is a pair
// of matrix products.
//
// Forward takes an explicit Mode. Training mode draws dropout masks, uses
// batch statistics in the input normalization, updates its running estimates
// and records what Backward needs. Evaluation mode only reads parameters, so a
// trained model can serve concurrent requests.
package nn
