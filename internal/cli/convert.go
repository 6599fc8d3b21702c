package cli

import (
	"fmt"

	"github.com/sensorable/lsyolo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// datasetFlags are the conversion flags shared by convert and export.
type datasetFlags struct {
	output       string
	trainSplit   float64
	seed         uint64
	boxPolicy    string
	linkMode     string
	imageSize    int
	requireImage bool
	classesFile  string
	mappings     []string
	labels       []string
	minWidth     float64
	minHeight    float64
}

func (f *datasetFlags) register(fs *pflag.FlagSet) {
	d := defaultDatasetFlags()
	fs.StringVarP(&f.output, "output", "o", "", "dataset directory (default: paths.dataset_dir)")
	fs.Float64Var(&f.trainSplit, "train-split", d.trainSplit, "fraction of tasks used for training")
	fs.Uint64Var(&f.seed, "seed", d.seed, "train/val shuffle seed")
	fs.StringVar(&f.boxPolicy, "box-policy", d.boxPolicy, "boxes outside the image: pass, clamp or reject")
	fs.StringVar(&f.linkMode, "link-mode", d.linkMode, "how images are placed in the dataset: symlink, copy or resize")
	fs.IntVar(&f.imageSize, "image-size", d.imageSize, "longer image side for --link-mode=resize")
	fs.BoolVar(&f.requireImage, "require-image", false, "skip tasks whose image file cannot be found")
	fs.StringVar(&f.classesFile, "classes", "", "existing classes.txt that pins class IDs")
	fs.StringSliceVar(&f.mappings, "map", nil, "rename labels before conversion, old=new (repeatable)")
	fs.StringSliceVar(&f.labels, "labels", nil, "only convert these labels (default: all)")
	fs.Float64Var(&f.minWidth, "min-width", 0, "drop boxes narrower than this many percent of the image")
	fs.Float64Var(&f.minHeight, "min-height", 0, "drop boxes lower than this many percent of the image")
}

func defaultDatasetFlags() datasetFlags {
	opts := lsyolo.DefaultOptions()
	return datasetFlags{
		trainSplit: opts.TrainSplit,
		seed:       opts.Seed,
		boxPolicy:  string(opts.BoxPolicy),
		linkMode:   string(lsyolo.LinkSymlink),
		imageSize:  640,
	}
}

// apply copies the flags that were set on the command line into the settings and validates them.
func (f *datasetFlags) apply(cmd *cobra.Command) error {
	flags := cmd.Flags()
	d := &cfg.Dataset
	if flags.Changed("output") {
		cfg.Paths.DatasetDir = f.output
	}
	if flags.Changed("train-split") {
		d.TrainSplit = f.trainSplit
	}
	if flags.Changed("seed") {
		d.Seed = f.seed
	}
	if flags.Changed("box-policy") {
		d.BoxPolicy = f.boxPolicy
	}
	if flags.Changed("link-mode") {
		d.LinkMode = f.linkMode
	}
	if flags.Changed("image-size") {
		d.ImageSize = f.imageSize
	}
	if flags.Changed("require-image") {
		d.RequireImage = f.requireImage
	}
	if flags.Changed("classes") {
		d.ClassesFile = f.classesFile
	}
	return cfg.Validate()
}

// convertRecords prepares the records and writes the dataset to paths.dataset_dir. Images are
// looked up in imageDir if it is not empty.
func (f *datasetFlags) convertRecords(records lsyolo.Records, imageDir string) (lsyolo.Result, error) {
	if n, err := records.MapLabels(f.mappings); err != nil {
		return lsyolo.Result{}, err
	} else if n > 0 {
		logger.Infof("Renamed %d labels", n)
	}
	if n := records.Filter(f.labels, f.minWidth, f.minHeight); n > 0 {
		logger.Infof("Filtered out %d annotations", n)
	}

	d := cfg.Dataset
	opts := lsyolo.DefaultOptions()
	opts.TrainSplit = d.TrainSplit
	opts.Seed = d.Seed
	opts.BoxPolicy = lsyolo.BoxPolicy(d.BoxPolicy)
	opts.RequireImage = d.RequireImage
	if d.ClassesFile != "" {
		catalog, err := lsyolo.LoadCatalog(appFs, d.ClassesFile)
		if err != nil {
			return lsyolo.Result{}, err
		}
		opts.Catalog = catalog
	}

	images := &lsyolo.LocalImages{
		Fs:        appFs,
		BaseDir:   imageDir,
		Mode:      lsyolo.LinkMode(d.LinkMode),
		ImageSize: d.ImageSize,
	}
	return lsyolo.NewConverter(appFs, images, logger, opts).Convert(records, cfg.Paths.DatasetDir)
}

var (
	convertOpts     datasetFlags
	convertImageDir string
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert <export.json>",
	Short: "Convert a Label Studio JSON export into a YOLO dataset",
	Long: `Convert reads a Label Studio JSON export and writes an Ultralytics YOLO dataset:

  <output>/images/{train,val}/   links to (or copies of) the task images
  <output>/labels/{train,val}/   one <stem>.txt per image with rectangle labels
  <output>/data.yaml             the dataset manifest
  <output>/classes.txt           "<id>: <name>" per class

Tasks are shuffled with a fixed seed, so repeated runs produce the same split.

Example:
  lsyolo convert exports/project_1_5.json -o datasets/round1
  lsyolo convert export.json --image-dir /data/images --box-policy clamp`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertOpts.register(convertCmd.Flags())
	convertCmd.Flags().StringVar(&convertImageDir, "image-dir", "", "directory holding all task images (default: resolve the task image paths)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	if err := convertOpts.apply(cmd); err != nil {
		return err
	}

	records, err := lsyolo.FromLabelStudio(appFs, args[0])
	if err != nil {
		return err
	}
	logger.Infof("Read %d tasks from %v", len(records), args[0])

	res, err := convertOpts.convertRecords(records, convertImageDir)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dataset written to %v\n", res.ManifestPath)
	return nil
}
