package labelstudio

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// labelColors are cycled through for the label backgrounds.
var labelColors = []string{
	"red", "blue", "green", "yellow", "purple", "orange", "pink", "cyan",
	"magenta", "lime", "teal", "indigo", "violet", "brown", "maroon", "gold",
	"silver", "navy", "coral", "salmon", "turquoise", "olive", "chocolate",
	"lavender", "khaki", "plum", "orchid", "skyblue", "crimson", "darkgreen",
}

// LabelConfig returns the labeling interface of a bounding box project with one rectangle label
// per name. Predictions below scoreThreshold are hidden in the editor.
//
// The control and object names match the from_name and to_name of uploaded predictions.
func LabelConfig(names []string, scoreThreshold float64) string {
	var b strings.Builder
	b.WriteString("<View>\n")
	b.WriteString(`  <Image name="image" value="$image"/>` + "\n")
	b.WriteString(`  <RectangleLabels name="label" toName="image" model_score_threshold="` +
		strconv.FormatFloat(scoreThreshold, 'f', -1, 64) + `">` + "\n")
	for i, name := range names {
		b.WriteString(`    <Label value="`)
		_ = xml.EscapeText(&b, []byte(name))
		b.WriteString(`" background="` + labelColors[i%len(labelColors)] + `"/>` + "\n")
	}
	b.WriteString("  </RectangleLabels>\n")
	b.WriteString("</View>\n")
	return b.String()
}
