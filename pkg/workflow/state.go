package workflow

// State is the position of a controller in the selection workflow
type State int

const (
	// NoImage means nothing has been selected yet
	NoImage State = iota
	// AwaitingCrop means an image is selected and a crop must be finalized
	AwaitingCrop
	// Cropped means a finalized crop is ready for submission
	Cropped
	// AwaitingSubmission means the raw image is ready for submission
	AwaitingSubmission
)

func (s State) String() string {
	switch s {
	case NoImage:
		return "no_image"
	case AwaitingCrop:
		return "awaiting_crop"
	case Cropped:
		return "cropped"
	case AwaitingSubmission:
		return "awaiting_submission"
	default:
		return "unknown"
	}
}

// Ready reports whether a payload can be submitted from this state
func (s State) Ready() bool {
	return s == Cropped || s == AwaitingSubmission
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
