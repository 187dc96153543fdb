package imaging

import "fmt"

// ErrBounds matches any BoundsError via errors.Is.
var ErrBounds = &BoundsError{}

// BoundsError reports a crop rectangle that does not fit inside the image.
type BoundsError struct {
	Rect          Rect
	Width, Height int
}

func (e *BoundsError) Error() string {
	if e.Width == 0 && e.Height == 0 {
		return "crop rectangle out of bounds"
	}
	return fmt.Sprintf("crop rectangle (%s) out of bounds for %dx%d image", e.Rect, e.Width, e.Height)
}

func (e *BoundsError) Is(target error) bool {
	_, ok := target.(*BoundsError)
	return ok
}

// ProcessingError reports image content that cannot be thresholded.
// Threshold handles it locally; it is only returned by IsodataThreshold.
type ProcessingError struct {
	Reason string
}

func (e *ProcessingError) Error() string {
	return "processing error: " + e.Reason
}
