package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuppressOverlaps(t *testing.T) {
	input := []ObjectDetection{
		{Class: 0, Confidence: 0.6, Box: Rect{X: 0, Y: 0, Width: 100, Height: 30}},
		{Class: 0, Confidence: 0.9, Box: Rect{X: 5, Y: 2, Width: 100, Height: 30}},
		{Class: 0, Confidence: 0.7, Box: Rect{X: 300, Y: 300, Width: 80, Height: 20}},
		{Class: 1, Confidence: 0.5, Box: Rect{X: 0, Y: 0, Width: 100, Height: 30}},
	}
	out := SuppressOverlaps(input, 0.45)
	require.Len(t, out, 3)
	require.Equal(t, float32(0.9), out[0].Confidence)
	require.Equal(t, float32(0.7), out[1].Confidence)
	require.Equal(t, 1, out[2].Class)

	// Input is untouched
	require.Equal(t, float32(0.6), input[0].Confidence)
}

func TestFilterByConfidence(t *testing.T) {
	input := []ObjectDetection{
		{Confidence: 0.3},
		{Confidence: 0.5},
		{Confidence: 0.97},
	}
	require.Len(t, FilterByConfidence(input, 0.5), 2)
	require.Len(t, FilterByConfidence(input, 0.95), 1)
	require.Len(t, FilterByConfidence(input, 0), 3)
	require.Len(t, FilterByConfidence(input, 1), 0)
}
