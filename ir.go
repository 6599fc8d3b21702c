package lsyolo

// The intermediate annotation metadata representation.

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sensorable/lsyolo/internal/pyrand"
)

// RectangleLabels is the Label Studio result type of an axis-aligned bounding box.
const RectangleLabels = "rectanglelabels"

// DefaultSeed seeds the train/val shuffle. Changing it changes every split.
const DefaultSeed = 42

// Box is an axis-aligned rectangle in percent of the image size, measured from the top-left
// corner. Values are not clamped and may exceed [0, 100].
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Normalized converts the box to YOLO's normalised center format.
func (b Box) Normalized() (xCenter, yCenter, width, height float64) {
	x := b.X / 100
	y := b.Y / 100
	width = b.Width / 100
	height = b.Height / 100
	return x + width/2, y + height/2, width, height
}

// InBounds reports whether the box has a positive size and lies entirely within the image.
func (b Box) InBounds() bool {
	return b.Width > 0 && b.Height > 0 && b.X >= 0 && b.Y >= 0 &&
		b.X+b.Width <= 100 && b.Y+b.Height <= 100
}

// Clamp clips the box to the image. It returns false if nothing of the box remains.
func (b Box) Clamp() (Box, bool) {
	x1 := clampPercent(b.X)
	y1 := clampPercent(b.Y)
	x2 := clampPercent(b.X + b.Width)
	y2 := clampPercent(b.Y + b.Height)
	if x2 <= x1 || y2 <= y1 {
		return Box{}, false
	}
	return Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	} else if v > 100 {
		return 100
	}
	return v
}

// Annotation is a single labeled region of a record.
type Annotation struct {
	Type  string  // The Label Studio result type, e.g. RectangleLabels.
	Label string  // The class name.
	Box   Box     // Percent coordinates.
	Score float64 // Model confidence in [0, 1]; zero for human annotations.
}

// IsRectangle reports whether the annotation is a rectangle label.
func (a Annotation) IsRectangle() bool {
	return a.Type == RectangleLabels
}

// LabeledRecord is one labeling unit: an image reference and its annotations.
type LabeledRecord struct {
	ID          int64        // The Label Studio task ID, zero if unknown.
	Image       string       // The image reference as found in data.image.
	Annotations []Annotation // Possibly empty.

	// AnnotationCount is the number of annotations of the task in the export, including those
	// whose results were all dropped while parsing.
	AnnotationCount int
}

// ImageFilename returns the base file name of the referenced image.
//
// Local-files references look like "/data/local-files/?d=images/img.jpg". For these the part
// after the last "d=" is used.
func (r LabeledRecord) ImageFilename() string {
	ref, _ := localFilesPath(r.Image)
	return baseName(ref)
}

// LocalFilesPrefix starts the image reference of a file served by Label Studio's local files
// storage. The path that follows is relative to the server's document root.
const LocalFilesPrefix = "/data/local-files/?d="

// LocalFilesRef returns the image reference of the file at relPath below the document root.
func LocalFilesRef(relPath string) string {
	return LocalFilesPrefix + filepath.ToSlash(relPath)
}

// localFilesPath returns the substring after the last "d=" marker, or ref unchanged and false if
// there is no marker.
func localFilesPath(ref string) (string, bool) {
	i := strings.LastIndex(ref, "d=")
	if i < 0 {
		return ref, false
	}
	return ref[i+2:], true
}

// Records is the annotation metadata for a list of images.
type Records []LabeledRecord

// MapLabels renames labels as specified in mappings, applied in order.
//
// The format of mappings is old=new. Returns the number of annotations that changed.
func (data Records) MapLabels(mappings []string) (int, error) {
	if len(mappings) == 0 {
		return 0, nil
	}

	replacements := make([]struct{ old, new string }, len(mappings))
	for i, v := range mappings {
		a := strings.Split(v, "=")
		if len(a) != 2 || a[0] == "" {
			return 0, fmt.Errorf("invalid mapping: %v", v)
		}
		replacements[i].old = a[0]
		replacements[i].new = a[1]
	}

	count := 0
	for _, r := range data {
		for i := range r.Annotations {
			a := &r.Annotations[i]
			oldLabel := a.Label
			for _, rp := range replacements {
				if a.Label == rp.old {
					a.Label = rp.new
				}
			}
			if a.Label != oldLabel {
				count++
			}
		}
	}

	return count, nil
}

// Filter removes annotations whose label is not in labelNames (an empty list keeps all labels),
// or whose box is narrower than minWidth or lower than minHeight percent.
//
// Annotations that are not rectangles are only subject to the label filter. The order of the
// remaining annotations is preserved. Returns the number of removed annotations.
func (data Records) Filter(labelNames []string, minWidth, minHeight float64) int {
	keepLabel := make(map[string]bool, len(labelNames))
	for _, l := range labelNames {
		keepLabel[l] = true
	}

	removed := 0
	for i := range data {
		r := &data[i]
		kept := r.Annotations[:0]
		for _, a := range r.Annotations {
			if len(keepLabel) > 0 && !keepLabel[a.Label] {
				removed++
				continue
			}
			if a.IsRectangle() && (a.Box.Width < minWidth || a.Box.Height < minHeight) {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		r.Annotations = kept
	}

	return removed
}

// Shuffle returns a copy of data in the order produced by Python's random.shuffle after
// random.seed(seed). The input is not modified.
func (data Records) Shuffle(seed uint64) Records {
	shuffled := make(Records, len(data))
	copy(shuffled, data)
	pyrand.New(seed).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// SplitIndex returns floor(n * trainSplit), the number of leading records assigned to the
// training subset. It is clamped to [0, n].
func SplitIndex(n int, trainSplit float64) int {
	idx := int(float64(n) * trainSplit)
	if idx < 0 {
		return 0
	} else if idx > n {
		return n
	}
	return idx
}

// Split shuffles the data with seed and divides it into a training and a validation subset.
func (data Records) Split(trainSplit float64, seed uint64) (train, val Records) {
	shuffled := data.Shuffle(seed)
	idx := SplitIndex(len(shuffled), trainSplit)
	return shuffled[:idx], shuffled[idx:]
}
