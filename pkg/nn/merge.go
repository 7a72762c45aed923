package nn

import (
	"slices"

	"github.com/bmharper/flatbush-go"
)

// Suppress overlapping detections of the same class.
// When two boxes of the same class have an IoU of at least minIoU, only the more
// confident one is kept. This is the final step of non-maximum suppression, for
// backends that don't do it themselves.
// The result is ordered by descending confidence.
func SuppressOverlaps(input []ObjectDetection, minIoU float32) []ObjectDetection {
	if len(input) < 2 {
		return slices.Clone(input)
	}

	// Visit the most confident objects first, so that they win
	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ca, cb := input[a].Confidence, input[b].Confidence
		if ca > cb {
			return -1
		} else if ca < cb {
			return 1
		}
		return 0
	})

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, b := range input {
		fb.Add(int32(b.Box.X), int32(b.Box.Y), int32(b.Box.X2()), int32(b.Box.Y2()))
	}
	fb.Finish()

	deleted := make([]bool, len(input))
	result := make([]ObjectDetection, 0, len(input))
	for _, i := range order {
		if deleted[i] {
			continue
		}
		in := input[i]
		result = append(result, in)
		for _, j := range fb.Search(int32(in.Box.X), int32(in.Box.Y), int32(in.Box.X2()), int32(in.Box.Y2())) {
			if j == i || deleted[j] {
				continue
			}
			if input[j].Class != in.Class {
				continue
			}
			if in.Box.IOU(input[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}
	return result
}
