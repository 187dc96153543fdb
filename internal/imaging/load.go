package imaging

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Load reads an image file as single-channel luminance data and applies
// the optional crop. A crop that does not fit the decoded image returns a BoundsError.
func Load(path string, crop *Rect) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	grid := FromImage(img)
	slog.Debug("Loaded image", "file", path, "format", format, "width", grid.Width, "height", grid.Height)

	if crop == nil {
		return grid, nil
	}
	return Crop(grid, *crop)
}

// FromImage converts any decoded image to a luminance grid.
func FromImage(img image.Image) *Grid {
	bounds := img.Bounds()
	grid := NewGrid(bounds.Dx(), bounds.Dy())

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < grid.Height; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+grid.Width]
			for x, v := range row {
				grid.Pix[y*grid.Width+x] = float64(v)
			}
		}
	case *image.Gray16:
		for y := 0; y < grid.Height; y++ {
			for x := 0; x < grid.Width; x++ {
				v := src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
				grid.Pix[y*grid.Width+x] = float64(v) / 257
			}
		}
	default:
		for y := 0; y < grid.Height; y++ {
			for x := 0; x < grid.Width; x++ {
				c := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				grid.Pix[y*grid.Width+x] = float64(c.Y) / 257
			}
		}
	}

	return grid
}

// Crop returns the sub-grid covered by r.
func Crop(g *Grid, r Rect) (*Grid, error) {
	if err := r.Validate(g.Width, g.Height); err != nil {
		return nil, err
	}

	out := NewGrid(r.Dx(), r.Dy())
	for y := 0; y < out.Height; y++ {
		src := g.Pix[(r.Y1+y)*g.Width+r.X1 : (r.Y1+y)*g.Width+r.X2]
		copy(out.Pix[y*out.Width:(y+1)*out.Width], src)
	}
	return out, nil
}
