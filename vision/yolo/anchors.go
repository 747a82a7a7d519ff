package yolo

// Anchor is a reference box shape in input pixels. The network predicts offsets relative to it.
type Anchor struct {
	Width  float32 `json:"width" yaml:"width" mapstructure:"width"`
	Height float32 `json:"height" yaml:"height" mapstructure:"height"`
}

// AnchorsPerHead is the number of anchors each detection head predicts per grid cell.
const AnchorsPerHead = 3

const (
	// DefaultNumClasses is the COCO class count.
	DefaultNumClasses = 80
	// DefaultInputSize is the square input resolution of YOLOv3-Tiny.
	DefaultInputSize = 416
	// DefaultScoreThreshold is the minimum objectness times class probability that is kept.
	DefaultScoreThreshold = 0.45
	// objectnessGate skips the class scan for cells that almost surely hold nothing.
	objectnessGate = 0.01
)

// DefaultAnchors are the YOLOv3 anchors for a 416 input.
func DefaultAnchors() []Anchor {
	return []Anchor{
		{10, 14}, {23, 27}, {37, 58},
		{81, 82}, {135, 169}, {344, 319},
	}
}

// DefaultMasks assigns anchors to the two YOLOv3-Tiny grids: the coarse 13x13 head uses the
// large anchors and the fine 26x26 head the small ones.
func DefaultMasks() map[int][]int {
	return map[int][]int{
		13: {3, 4, 5},
		26: {0, 1, 2},
	}
}
