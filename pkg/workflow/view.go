package workflow

import (
	"github.com/menta2k/fruitcount/pkg/estimate"
	"github.com/menta2k/fruitcount/pkg/types"
)

// View is an immutable snapshot of everything a presentation layer shows
type View struct {
	State State `json:"state"`

	ImageName string               `json:"image_name,omitempty"`
	ImageURL  string               `json:"image_url,omitempty"`
	Metadata  *types.ImageMetadata `json:"metadata,omitempty"`
	Selection *types.Box           `json:"selection,omitempty"`
	CropURL   string               `json:"crop_url,omitempty"`
	CanSubmit bool                 `json:"can_submit"`
	Busy      bool                 `json:"busy"`
	Error     string               `json:"error,omitempty"`

	Result       *types.DetectionResult `json:"result,omitempty"`
	Count        int                    `json:"estimated_count"`
	AnnotatedURL string                 `json:"annotated_url,omitempty"`

	Weights   types.WeightConfig `json:"weights"`
	Cases     float64            `json:"estimated_cases"`
	CasesText string             `json:"estimated_cases_text,omitempty"`
}

// View returns the current presentation snapshot
func (c *Controller) View() View {
	c.mu.Lock()
	v := View{State: c.state}
	if c.raw != nil {
		v.ImageName = c.raw.Name
		v.ImageURL = c.raw.DisplayURL
		v.Metadata = c.raw.Metadata
	}
	if c.surface != nil && c.state == AwaitingCrop {
		sel := c.surface.Selection()
		v.Selection = &sel
	}
	if c.crop != nil {
		v.CropURL = c.crop.DisplayURL
	}
	c.mu.Unlock()

	sub := c.submitter.State()
	v.Busy = sub.Busy
	v.Error = sub.Error
	v.CanSubmit = v.State.Ready() && !sub.Busy
	if sub.Result != nil {
		r := *sub.Result
		v.Result = &r
		v.Count = r.Count
		v.AnnotatedURL = r.AnnotatedURL
	}

	v.Weights = c.weights.Snapshot()
	v.Cases = estimate.ForResult(v.Result, v.Weights)
	v.CasesText = estimate.Format(v.Cases)
	return v
}
