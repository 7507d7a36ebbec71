package heatmap

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"
)

const (
	screenshotName = "screenshot.png"
	outputName     = "HeatMap.png"

	blurKernelSize = 15
)

// Generate renders a mouse-movement heat map for one trial: a full-screen
// screenshot blended with the Gaussian-smoothed density of the sampled
// coordinates. The intermediate screenshot is removed once the overlay is
// written. With no samples, no output is produced.
func Generate(dir string, points []image.Point) error {
	if len(points) == 0 {
		return nil
	}

	if screenshot.NumActiveDisplays() == 0 {
		return fmt.Errorf("no active display for heatmap screenshot")
	}
	bounds := screenshot.GetDisplayBounds(0)
	shot, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}

	screenshotPath := filepath.Join(dir, screenshotName)
	if err := writePNG(screenshotPath, shot); err != nil {
		return err
	}

	density := densityMap(points, bounds.Dx(), bounds.Dy())
	gaussianBlur(density, bounds.Dx(), bounds.Dy(), blurKernelSize)
	overlay := blend(shot, density, bounds.Dx(), bounds.Dy())

	if err := writePNG(filepath.Join(dir, outputName), overlay); err != nil {
		return err
	}

	return os.Remove(screenshotPath)
}

func densityMap(points []image.Point, w, h int) []float64 {
	density := make([]float64, w*h)
	for _, p := range points {
		if p.X >= 0 && p.X < w && p.Y >= 0 && p.Y < h {
			density[p.Y*w+p.X]++
		}
	}
	return density
}

// gaussianBlur smooths the density in place with a separable kernel.
func gaussianBlur(data []float64, w, h, size int) {
	kernel := gaussianKernel(size)
	radius := size / 2

	tmp := make([]float64, len(data))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				xx := x + k
				if xx < 0 || xx >= w {
					continue
				}
				sum += data[y*w+xx] * kernel[k+radius]
			}
			tmp[y*w+x] = sum
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				yy := y + k
				if yy < 0 || yy >= h {
					continue
				}
				sum += tmp[yy*w+x] * kernel[k+radius]
			}
			data[y*w+x] = sum
		}
	}
}

func gaussianKernel(size int) []float64 {
	// Sigma derived from kernel size the way OpenCV does for its blur.
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	kernel := make([]float64, size)
	radius := size / 2
	var total float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		total += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= total
	}
	return kernel
}

// blend composites the jet-colored density over the screenshot with a
// 0.7/0.3 weighting.
func blend(shot image.Image, density []float64, w, h int) *image.RGBA {
	base := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Copy(base, image.Point{}, shot, shot.Bounds(), draw.Src, nil)

	var peak float64
	for _, v := range density {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return base
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			heat := jet(density[y*w+x] / peak)
			i := base.PixOffset(x, y)
			base.Pix[i+0] = uint8(0.7*float64(base.Pix[i+0]) + 0.3*float64(heat.R))
			base.Pix[i+1] = uint8(0.7*float64(base.Pix[i+1]) + 0.3*float64(heat.G))
			base.Pix[i+2] = uint8(0.7*float64(base.Pix[i+2]) + 0.3*float64(heat.B))
			base.Pix[i+3] = 0xff
		}
	}
	return base
}

// jet maps a normalized value to the blue-cyan-yellow-red color ramp.
func jet(v float64) color.RGBA {
	clamp := func(f float64) uint8 {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		return uint8(f * 255)
	}
	return color.RGBA{
		R: clamp(1.5 - math.Abs(4*v-3)),
		G: clamp(1.5 - math.Abs(4*v-2)),
		B: clamp(1.5 - math.Abs(4*v-1)),
		A: 0xff,
	}
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
