package nn

import "fmt"

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

func (o ObjectDetection) String() string {
	return fmt.Sprintf("%v (%.2f) [%v,%v,%v,%v]", o.Class, o.Confidence, o.Box.X, o.Box.Y, o.Box.X2(), o.Box.Y2())
}

// Return only the objects whose confidence is at least 'threshold'.
// The input slice is not modified.
func FilterByConfidence(objects []ObjectDetection, threshold float32) []ObjectDetection {
	keep := make([]ObjectDetection, 0, len(objects))
	for _, obj := range objects {
		if obj.Confidence >= threshold {
			keep = append(keep, obj)
		}
	}
	return keep
}
