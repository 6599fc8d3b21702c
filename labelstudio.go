package lsyolo

// Label Studio JSON export and prediction specific functionality.

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// LSTaskData is the data payload of a task. Only the image reference is used.
type LSTaskData struct {
	Image string `json:"image"`
}

// LSResult is one region of an annotation. The value is decoded according to Type.
type LSResult struct {
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type"`
	FromName string          `json:"from_name,omitempty"`
	ToName   string          `json:"to_name,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// LSAnnotation is one completed annotation of a task.
type LSAnnotation struct {
	ID           int64      `json:"id,omitempty"`
	Result       []LSResult `json:"result"`
	WasCancelled bool       `json:"was_cancelled,omitempty"`
}

// LSTask is a single task of a Label Studio JSON export.
type LSTask struct {
	ID          int64          `json:"id,omitempty"`
	Data        LSTaskData     `json:"data"`
	Annotations []LSAnnotation `json:"annotations"`
}

// lsRectangleValue is the value of a rectanglelabels result. Pointers detect missing fields.
type lsRectangleValue struct {
	X               *float64 `json:"x"`
	Y               *float64 `json:"y"`
	Width           *float64 `json:"width"`
	Height          *float64 `json:"height"`
	RectangleLabels []string `json:"rectanglelabels"`
}

// LSRectangle is the value written for a predicted rectangle.
type LSRectangle struct {
	X               float64  `json:"x"`
	Y               float64  `json:"y"`
	Width           float64  `json:"width"`
	Height          float64  `json:"height"`
	RectangleLabels []string `json:"rectanglelabels"`
}

// LSRegion is a single predicted region.
type LSRegion struct {
	FromName string      `json:"from_name"`
	ToName   string      `json:"to_name"`
	Type     string      `json:"type"`
	Value    LSRectangle `json:"value"`
	Score    float64     `json:"score"`
}

// LSPrediction is the payload of a prediction (pre-annotation) for one task.
type LSPrediction struct {
	Task         int64      `json:"task"`
	ModelVersion string     `json:"model_version,omitempty"`
	Score        float64    `json:"score"`
	Result       []LSRegion `json:"result"`
}

// The control tag names of the labeling configuration.
const (
	lsFromName = "label"
	lsToName   = "image"
)

// ParseLabelStudio parses a Label Studio JSON export.
//
// The results of all annotations of a task are flattened into one record, in order. Results of
// other types are kept with only their Type set. Rectangle results with missing coordinates or
// without a label are dropped.
func ParseLabelStudio(r io.Reader) (Records, error) {
	var tasks []LSTask
	if err := json.NewDecoder(r).Decode(&tasks); err != nil {
		return nil, err
	}

	data := make(Records, 0, len(tasks))
	for _, task := range tasks {
		record := LabeledRecord{ID: task.ID, Image: task.Data.Image, AnnotationCount: len(task.Annotations)}
		for _, a := range task.Annotations {
			for _, res := range a.Result {
				if res.Type != RectangleLabels {
					record.Annotations = append(record.Annotations, Annotation{Type: res.Type})
					continue
				}
				if annotation, ok := parseRectangle(res.Value); ok {
					record.Annotations = append(record.Annotations, annotation)
				}
			}
		}
		data = append(data, record)
	}

	return data, nil
}

func parseRectangle(raw json.RawMessage) (Annotation, bool) {
	var v lsRectangleValue
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return Annotation{}, false
	}
	if v.X == nil || v.Y == nil || v.Width == nil || v.Height == nil || len(v.RectangleLabels) == 0 {
		return Annotation{}, false
	}
	return Annotation{
		Type:  RectangleLabels,
		Label: v.RectangleLabels[0],
		Box:   Box{X: *v.X, Y: *v.Y, Width: *v.Width, Height: *v.Height},
	}, true
}

// FromLabelStudio reads and parses the Label Studio JSON export at path.
func FromLabelStudio(fs afero.Fs, path string) (Records, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := ParseLabelStudio(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Label Studio export %q: %w", path, err)
	}
	return data, nil
}

// ToLabelStudioPredictions converts the rectangles of each record to a prediction payload. The
// prediction score is the mean of the region scores, zero without regions.
func ToLabelStudioPredictions(data Records, modelVersion string) []LSPrediction {
	predictions := make([]LSPrediction, 0, len(data))
	for _, r := range data {
		p := LSPrediction{
			Task:         r.ID,
			ModelVersion: modelVersion,
			Result:       make([]LSRegion, 0, len(r.Annotations)), // Must not be nil as that becomes JSON null.
		}

		var sum float64
		for _, a := range r.Annotations {
			if !a.IsRectangle() {
				continue
			}
			p.Result = append(p.Result, LSRegion{
				FromName: lsFromName,
				ToName:   lsToName,
				Type:     RectangleLabels,
				Value: LSRectangle{
					X:               a.Box.X,
					Y:               a.Box.Y,
					Width:           a.Box.Width,
					Height:          a.Box.Height,
					RectangleLabels: []string{a.Label},
				},
				Score: a.Score,
			})
			sum += a.Score
		}
		if len(p.Result) > 0 {
			p.Score = sum / float64(len(p.Result))
		}

		predictions = append(predictions, p)
	}

	return predictions
}

// WriteLabelStudio writes v as indented JSON to outFile.
func WriteLabelStudio(fs afero.Fs, outFile string, v interface{}) error {
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, outFile, enc, 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %w", outFile, err)
	}
	return nil
}
