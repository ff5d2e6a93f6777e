package nn

// Mode selects the forward-pass behaviour of layers whose output differs
// between optimisation and inference.
type Mode int

const (
	// Training uses batch statistics, active dropout and records gradients.
	Training Mode = iota
	// Evaluation uses frozen running statistics and disables dropout.
	Evaluation
)

func (m Mode) String() string {
	switch m {
	case Training:
		return "training"
	case Evaluation:
		return "evaluation"
	default:
		return "unknown"
	}
}
