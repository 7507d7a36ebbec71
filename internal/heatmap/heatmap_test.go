package heatmap

import (
	"image"
	"math"
	"os"
	"testing"
)

func TestGenerateNoSamplesNoOutput(t *testing.T) {
	dir := t.TempDir()
	if err := Generate(dir, nil); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Generate without samples wrote %d files", len(entries))
	}
}

func TestDensityMap(t *testing.T) {
	points := []image.Point{
		{X: 1, Y: 1},
		{X: 1, Y: 1},
		{X: 0, Y: 2},
		{X: -5, Y: 1},  // off screen, ignored
		{X: 3, Y: 100}, // off screen, ignored
	}
	density := densityMap(points, 4, 3)

	if got := density[1*4+1]; got != 2 {
		t.Errorf("density at (1,1) = %v, want 2", got)
	}
	if got := density[2*4+0]; got != 1 {
		t.Errorf("density at (0,2) = %v, want 1", got)
	}
	var total float64
	for _, v := range density {
		total += v
	}
	if total != 3 {
		t.Errorf("total density = %v, want 3 in-bounds samples", total)
	}
}

func TestGaussianKernel(t *testing.T) {
	kernel := gaussianKernel(blurKernelSize)
	if len(kernel) != blurKernelSize {
		t.Fatalf("kernel length = %d, want %d", len(kernel), blurKernelSize)
	}

	var sum float64
	for _, v := range kernel {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("kernel sum = %v, want 1", sum)
	}

	mid := blurKernelSize / 2
	for i := 0; i < mid; i++ {
		if math.Abs(kernel[i]-kernel[blurKernelSize-1-i]) > 1e-12 {
			t.Errorf("kernel asymmetric at %d: %v vs %v", i, kernel[i], kernel[blurKernelSize-1-i])
		}
		if kernel[i] >= kernel[i+1] {
			t.Errorf("kernel not increasing toward center at %d", i)
		}
	}
}

func TestGaussianBlurPreservesMass(t *testing.T) {
	w, h := 21, 21
	data := make([]float64, w*h)
	data[10*w+10] = 100

	gaussianBlur(data, w, h, blurKernelSize)

	var total float64
	peak := 0.0
	for _, v := range data {
		total += v
		if v > peak {
			peak = v
		}
	}
	// A separable normalized kernel spreads mass without creating it.
	if math.Abs(total-100) > 1e-6 {
		t.Errorf("total mass = %v, want 100", total)
	}
	if peak >= 100 {
		t.Errorf("peak = %v, blur did not spread the spike", peak)
	}
	if data[10*w+10] != peak {
		t.Error("peak moved away from the spike")
	}
}

func TestJetRamp(t *testing.T) {
	cold := jet(0)
	hot := jet(1)
	if cold.B <= cold.R {
		t.Errorf("jet(0) = %v, want blue-dominant", cold)
	}
	if hot.R <= hot.B {
		t.Errorf("jet(1) = %v, want red-dominant", hot)
	}
	mid := jet(0.5)
	if mid.G == 0 {
		t.Errorf("jet(0.5) = %v, want green component", mid)
	}
}
