package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sensorable/lsyolo"
	"github.com/sensorable/lsyolo/labelstudio"
	"github.com/spf13/cobra"
)

var (
	predTasks        string
	predLabelDir     string
	predClasses      string
	predMinScore     float64
	predModelVersion string
	predOutput       string
	predUpload       bool
	predAll          bool
)

// predictionsCmd represents the predictions command
var predictionsCmd = &cobra.Command{
	Use:   "predictions",
	Short: "Turn YOLO predictions into Label Studio pre-annotations",
	Long: `Predictions reads the label files written by "yolo predict save_txt=True save_conf=True",
matches them to the tasks of a Label Studio export by image file name, and converts
the detections into Label Studio predictions.

The predictions are written to --output as JSON and, with --upload, created on the
server. Only tasks without annotations are considered unless --all is set. A task
counts as annotated as soon as the export lists an annotation for it, even if none
of its regions could be read.

Example:
  lsyolo predictions --tasks exports/project_3_12.json --classes dataset/classes.txt --upload
  lsyolo predictions --tasks export.json --labels runs/detect/predict/labels -o predictions.json`,
	Args: cobra.NoArgs,
	RunE: runPredictions,
}

func init() {
	rootCmd.AddCommand(predictionsCmd)
	predictionsCmd.Flags().StringVar(&predTasks, "tasks", "", "Label Studio JSON export with the tasks (required)")
	predictionsCmd.Flags().StringVar(&predLabelDir, "labels", "", "prediction label directory (default: paths.predictions_dir)")
	predictionsCmd.Flags().StringVar(&predClasses, "classes", "", "classes.txt of the model (default: <paths.dataset_dir>/classes.txt)")
	predictionsCmd.Flags().Float64Var(&predMinScore, "min-score", 0, "drop detections below this confidence (default: yolo.model_score_threshold)")
	predictionsCmd.Flags().StringVar(&predModelVersion, "model-version", "", "model version recorded with each prediction (default: yolo.model_version)")
	predictionsCmd.Flags().StringVarP(&predOutput, "output", "o", "", "write the predictions to this JSON file")
	predictionsCmd.Flags().BoolVar(&predUpload, "upload", false, "create the predictions in Label Studio")
	predictionsCmd.Flags().BoolVar(&predAll, "all", false, "include tasks that already have annotations")
	_ = predictionsCmd.MarkFlagRequired("tasks")
}

func runPredictions(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("labels") {
		cfg.Paths.PredictionsDir = predLabelDir
	}
	if flags.Changed("min-score") {
		cfg.YOLO.ModelScoreThreshold = predMinScore
	}
	if flags.Changed("model-version") {
		cfg.YOLO.ModelVersion = predModelVersion
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if predOutput == "" && !predUpload {
		return fmt.Errorf("nothing to do: set --output and/or --upload")
	}
	if predUpload {
		if err := cfg.RequireServer(); err != nil {
			return err
		}
	}

	classesFile := predClasses
	if classesFile == "" {
		classesFile = filepath.Join(cfg.Paths.DatasetDir, lsyolo.ClassesFile)
	}
	catalog, err := lsyolo.LoadCatalog(appFs, classesFile)
	if err != nil {
		return err
	}

	tasks, err := lsyolo.FromLabelStudio(appFs, predTasks)
	if err != nil {
		return err
	}
	if !predAll {
		tasks = unlabeled(tasks)
	}
	logger.Infof("Matching predictions for %d tasks", len(tasks))

	records, stats, err := lsyolo.FromYOLOPredictions(appFs, cfg.Paths.PredictionsDir, tasks, catalog, cfg.YOLO.ModelScoreThreshold)
	if err != nil {
		return err
	}
	logger.Infof("%d prediction files, %d detections kept, %d below score %v, %d of unknown class",
		stats.Files, stats.Detections, stats.BelowScore, cfg.YOLO.ModelScoreThreshold, stats.UnknownClass)
	if stats.SharedStem > 0 {
		logger.Warnf("Skipped %d tasks whose image file name only differs from another task's by its extension",
			stats.SharedStem)
	}
	if len(records) == 0 {
		logger.Warnf("No predictions found for any task")
	}

	predictions := lsyolo.ToLabelStudioPredictions(records, cfg.YOLO.ModelVersion)
	if predOutput != "" {
		if err := lsyolo.WriteLabelStudio(appFs, predOutput, predictions); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Predictions written to %v\n", predOutput)
	}
	if predUpload {
		client := labelstudio.NewClient(cfg.LabelStudio.URL, cfg.LabelStudio.APIKey)
		if failed := uploadPredictions(cmd.Context(), client, predictions); failed > 0 {
			return fmt.Errorf("%d of %d predictions failed to upload", failed, len(predictions))
		}
	}
	return nil
}

// unlabeled returns the tasks that have no annotation in the export.
func unlabeled(tasks lsyolo.Records) lsyolo.Records {
	out := make(lsyolo.Records, 0, len(tasks))
	for _, t := range tasks {
		if t.AnnotationCount == 0 && len(t.Annotations) == 0 {
			out = append(out, t)
		}
	}
	return out
}

// uploadPredictions creates the predictions one by one. A failed upload is logged and the rest
// continue. Returns the number of failures.
func uploadPredictions(ctx context.Context, client *labelstudio.Client, predictions []lsyolo.LSPrediction) int {
	failed := 0
	for i, p := range predictions {
		id, err := client.CreatePrediction(ctx, p)
		if err != nil {
			logger.Errorf("Failed to upload prediction for task %v: %v", p.Task, err)
			failed++
			continue
		}
		logger.Infof("Uploaded prediction %v for task %v (%d/%d)", id, p.Task, i+1, len(predictions))
	}
	logger.Infof("Uploaded %d predictions, %d failed", len(predictions)-failed, failed)
	return failed
}
