package acquire

import (
	"errors"
	"fmt"

	"github.com/ncruces/zenity"

	"github.com/menta2k/fruitcount/internal/utils"
)

// PickFile opens the native file dialog. A cancelled dialog returns an empty
// path, which SelectFile treats as a no-op.
func PickFile() (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Title("Select a photo of fruit"),
		zenity.FileFilters{
			{
				Name:     "Images",
				Patterns: utils.ImagePatterns(),
			},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", nil
		}
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	return selected, nil
}
