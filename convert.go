package lsyolo

// Conversion of labeled records into an Ultralytics YOLO dataset.

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// The dataset layout.
const (
	SplitTrain = "train"
	SplitVal   = "val"

	ImagesDir    = "images"
	LabelsDir    = "labels"
	ManifestFile = "data.yaml"
	ClassesFile  = "classes.txt"
)

// BoxPolicy decides what happens to rectangles that reach outside the image.
type BoxPolicy string

// The supported box policies.
const (
	BoxPass   BoxPolicy = "pass"   // Convert as is; normalised values may fall outside [0, 1].
	BoxClamp  BoxPolicy = "clamp"  // Clip to the image; drop boxes with nothing left.
	BoxReject BoxPolicy = "reject" // Drop boxes that are not entirely inside the image.
)

// ParseBoxPolicy validates s as a BoxPolicy.
func ParseBoxPolicy(s string) (BoxPolicy, error) {
	switch p := BoxPolicy(s); p {
	case BoxPass, BoxClamp, BoxReject:
		return p, nil
	}
	return "", fmt.Errorf("unknown box policy %q", s)
}

// Options control a conversion.
type Options struct {
	TrainSplit float64 // Fraction of records assigned to the training subset.
	Seed       uint64  // Shuffle seed.
	BoxPolicy  BoxPolicy

	// RequireImage skips records whose image cannot be resolved. By default their label file is
	// written anyway and only the image link is missing.
	RequireImage bool

	// Catalog optionally pins the IDs of known classes. New labels are appended after them. The
	// catalog is not modified.
	Catalog *LabelCatalog
}

// DefaultOptions returns an 80/20 split with seed 42 that passes boxes through unchanged.
func DefaultOptions() Options {
	return Options{
		TrainSplit: 0.8,
		Seed:       DefaultSeed,
		BoxPolicy:  BoxPass,
	}
}

// Result summarises a conversion.
type Result struct {
	Train         int           // Training records that received a label file.
	Val           int           // Validation records that received a label file.
	Catalog       *LabelCatalog // The classes, including any from Options.Catalog.
	ManifestPath  string
	ClassesPath   string
	Linked        int // Images linked into the dataset.
	MissingImages int // Records whose image could not be resolved.
	Skipped       int // Records that were not converted at all.
	Rejected      int // Rectangles dropped by the box policy.
}

// Manifest is the dataset configuration read by the trainer.
type Manifest struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

// Converter turns labeled records into a YOLO dataset. It is not safe for concurrent use on the
// same output directory.
type Converter struct {
	fs     afero.Fs
	images ImageStore
	log    logs.Log
	opts   Options
}

// NewConverter returns a converter that writes to fs and places images through images.
func NewConverter(fs afero.Fs, images ImageStore, log logs.Log, opts Options) *Converter {
	if opts.BoxPolicy == "" {
		opts.BoxPolicy = BoxPass
	}
	return &Converter{fs: fs, images: images, log: log, opts: opts}
}

// Convert writes the records to outputDir as a YOLO dataset:
//
//	images/{train,val}/<file>   the images, see ImageStore
//	labels/{train,val}/<stem>.txt
//	data.yaml
//	classes.txt
//
// The records are shuffled with Options.Seed and the first floor(len*TrainSplit) become the
// training subset. A label file is only written for records with at least one rectangle. Class
// IDs are assigned in the order labels are first seen in the shuffled records.
//
// Files written before an error remain on disk.
func (c *Converter) Convert(records Records, outputDir string) (Result, error) {
	res := Result{Catalog: NewLabelCatalog()}
	if c.opts.Catalog != nil {
		res.Catalog = c.opts.Catalog.Clone()
	}

	outDir, err := filepath.Abs(outputDir)
	if err != nil {
		return res, err
	}
	for _, dir := range []string{ImagesDir, LabelsDir} {
		for _, split := range []string{SplitTrain, SplitVal} {
			path := filepath.Join(outDir, dir, split)
			if err := c.fs.MkdirAll(path, 0755); err != nil {
				return res, fmt.Errorf("cannot create directory %q: %w", path, err)
			}
		}
	}

	shuffled := records.Shuffle(c.opts.Seed)
	splitIdx := SplitIndex(len(shuffled), c.opts.TrainSplit)

	for i, r := range shuffled {
		split := SplitVal
		if i < splitIdx {
			split = SplitTrain
		}

		written, err := c.convertRecord(r, outDir, split, &res)
		if err != nil {
			return res, err
		}
		if written && split == SplitTrain {
			res.Train++
		} else if written {
			res.Val++
		}
	}

	if res.ManifestPath, err = c.writeManifest(outDir, res.Catalog); err != nil {
		return res, err
	}
	if res.ClassesPath, err = c.writeClasses(outDir, res.Catalog); err != nil {
		return res, err
	}

	c.log.Infof("Created YOLO dataset in %v: %d train, %d val, %d classes (%v)",
		outDir, res.Train, res.Val, res.Catalog.Len(), strings.Join(res.Catalog.Names(), ", "))
	if res.MissingImages > 0 {
		c.log.Warnf("%d images could not be found", res.MissingImages)
	}
	if res.Rejected > 0 {
		c.log.Warnf("The %v box policy dropped %d boxes", c.opts.BoxPolicy, res.Rejected)
	}

	return res, nil
}

// convertRecord links the image of r and writes its label file into the split. Returns whether a
// label file was written.
func (c *Converter) convertRecord(r LabeledRecord, outDir, split string, res *Result) (bool, error) {
	filename := r.ImageFilename()
	if filename == "" {
		c.log.Warnf("Skipping task %d: no image file name in %q", r.ID, r.Image)
		res.Skipped++
		return false, nil
	}

	src, found := c.images.Resolve(r)
	if found {
		dst := filepath.Join(outDir, ImagesDir, split, filename)
		if err := c.images.Link(src, dst); err != nil {
			return false, fmt.Errorf("cannot link image %q to %q: %w", src, dst, err)
		}
		res.Linked++
	} else {
		res.MissingImages++
		if c.opts.RequireImage {
			c.log.Warnf("Skipping task %d: image %q not found", r.ID, src)
			res.Skipped++
			return false, nil
		}
		c.log.Debugf("Image %q not found, writing labels only", src)
	}

	lines := make([]string, 0, len(r.Annotations))
	for _, a := range r.Annotations {
		if !a.IsRectangle() {
			continue
		}

		box := a.Box
		switch c.opts.BoxPolicy {
		case BoxClamp:
			var ok bool
			if box, ok = box.Clamp(); !ok {
				res.Rejected++
				continue
			}
		case BoxReject:
			if !box.InBounds() {
				res.Rejected++
				continue
			}
		}

		lines = append(lines, NewYOLOLabel(res.Catalog.ID(a.Label), box).String())
	}
	if len(lines) == 0 {
		return false, nil
	}

	path := filepath.Join(outDir, LabelsDir, split, stem(filename)+".txt")
	if err := afero.WriteFile(c.fs, path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return false, fmt.Errorf("cannot write file %q: %w", path, err)
	}
	return true, nil
}

// writeManifest writes data.yaml and returns its path.
func (c *Converter) writeManifest(outDir string, catalog *LabelCatalog) (string, error) {
	m := Manifest{
		Path:  outDir,
		Train: ImagesDir + "/" + SplitTrain,
		Val:   ImagesDir + "/" + SplitVal,
		NC:    catalog.Len(),
		Names: catalog.Names(),
	}

	var buf bytes.Buffer
	buf.WriteString("# YOLO dataset configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&m); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(outDir, ManifestFile)
	if err := afero.WriteFile(c.fs, path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("cannot write file %q: %w", path, err)
	}
	return path, nil
}

// writeClasses writes classes.txt and returns its path.
func (c *Converter) writeClasses(outDir string, catalog *LabelCatalog) (path string, err error) {
	path = filepath.Join(outDir, ClassesFile)
	f, err := c.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("cannot write file %q: %w", path, err)
	}
	defer closeWithErrCheck(f, &err)

	if _, err := catalog.WriteTo(f); err != nil {
		return "", fmt.Errorf("cannot write file %q: %w", path, err)
	}
	return path, nil
}

// ReadManifest parses the data.yaml at path.
func ReadManifest(fs afero.Fs, path string) (Manifest, error) {
	var m Manifest
	enc, err := afero.ReadFile(fs, path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(enc, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest %q: %w", path, err)
	}
	return m, nil
}
