package lsyolo

// YOLO (Ultralytics) label file specific functionality.

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// YOLOLabel is a single line of a YOLO label file. Coordinates are normalised to [0, 1] of the
// image size and describe the box center and size.
type YOLOLabel struct {
	ClassID       int
	XCenter       float64
	YCenter       float64
	Width         float64
	Height        float64
	Confidence    float64 // Only set for prediction files written with save_conf.
	HasConfidence bool
}

// NewYOLOLabel converts a percent box into a YOLO label for classID.
func NewYOLOLabel(classID int, b Box) YOLOLabel {
	xc, yc, w, h := b.Normalized()
	return YOLOLabel{ClassID: classID, XCenter: xc, YCenter: yc, Width: w, Height: h}
}

// Box converts the label back to a top-left percent box.
func (l YOLOLabel) Box() Box {
	return Box{
		X:      (l.XCenter - l.Width/2) * 100,
		Y:      (l.YCenter - l.Height/2) * 100,
		Width:  l.Width * 100,
		Height: l.Height * 100,
	}
}

// String formats the label as a training label line. The confidence is never written.
func (l YOLOLabel) String() string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", l.ClassID, l.XCenter, l.YCenter, l.Width, l.Height)
}

// ParseYOLOLine parses "cls xc yc w h" with an optional trailing confidence.
func ParseYOLOLine(line string) (YOLOLabel, error) {
	l := YOLOLabel{}

	tokens := strings.Fields(line)
	if len(tokens) != 5 && len(tokens) != 6 {
		return l, fmt.Errorf("expected 5 or 6 values in %q", line)
	}

	var err error
	if l.ClassID, err = strconv.Atoi(tokens[0]); err != nil || l.ClassID < 0 {
		return l, fmt.Errorf("invalid class id in %q", line)
	}
	values := []*float64{&l.XCenter, &l.YCenter, &l.Width, &l.Height, &l.Confidence}
	for i := 1; i < len(tokens) && err == nil; i++ {
		*values[i-1], err = strconv.ParseFloat(tokens[i], 64)
	}
	if err != nil {
		return l, fmt.Errorf("unexpected values in %q: %v", line, err)
	}
	l.HasConfidence = len(tokens) == 6

	return l, nil
}

// PredictionStats summarises a FromYOLOPredictions run.
type PredictionStats struct {
	Files        int // Prediction files matched to a task.
	Detections   int // Detections kept.
	BelowScore   int // Detections dropped for a confidence below the threshold.
	UnknownClass int // Detections dropped because their class ID is not in the catalog.
	SharedStem   int // Tasks skipped because another task's image has the same file stem.
}

// FromYOLOPredictions reads the label files that Ultralytics writes for predict with save_txt
// from labelDir, and matches them by image file stem to tasks.
//
// Class IDs are mapped to names through catalog. Detections with a confidence below minScore are
// dropped; lines without a confidence are kept with a score of 1. Tasks without a prediction file
// are not part of the result. A prediction file cannot tell apart images that differ only in their
// extension, such as a.jpg and a.png, so tasks whose stem is not unique are skipped and counted in
// SharedStem.
func FromYOLOPredictions(fs afero.Fs, labelDir string, tasks Records, catalog *LabelCatalog,
	minScore float64) (Records, PredictionStats, error) {

	var stats PredictionStats
	labelFiles, err := filesByExtInDir(fs, labelDir, ".txt")
	if err != nil {
		return nil, stats, err
	}
	byStem := make(map[string]string, len(labelFiles))
	for _, path := range labelFiles {
		byStem[stem(filepath.Base(path))] = path
	}

	tasksPerStem := make(map[string]int, len(tasks))
	for _, task := range tasks {
		tasksPerStem[stem(task.ImageFilename())]++
	}

	data := make(Records, 0, len(labelFiles))
	for _, task := range tasks {
		taskStem := stem(task.ImageFilename())
		path, found := byStem[taskStem]
		if !found {
			continue
		}
		if tasksPerStem[taskStem] > 1 {
			stats.SharedStem++
			continue
		}
		labels, err := readYOLOFile(fs, path)
		if err != nil {
			return nil, stats, err
		}
		stats.Files++

		record := LabeledRecord{ID: task.ID, Image: task.Image}
		for _, l := range labels {
			score := 1.0
			if l.HasConfidence {
				score = l.Confidence
			}
			if score < minScore {
				stats.BelowScore++
				continue
			}
			name, ok := catalog.Name(l.ClassID)
			if !ok {
				stats.UnknownClass++
				continue
			}
			record.Annotations = append(record.Annotations, Annotation{
				Type:  RectangleLabels,
				Label: name,
				Box:   l.Box(),
				Score: score,
			})
			stats.Detections++
		}
		data = append(data, record)
	}

	return data, stats, nil
}

// readYOLOFile parses all non-empty lines of the label file at path.
func readYOLOFile(fs afero.Fs, path string) (labels []YOLOLabel, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}
	defer closeWithErrCheck(f, &err)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l, err := ParseYOLOLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		labels = append(labels, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %q as lines: %v", path, err)
	}

	return labels, nil
}
