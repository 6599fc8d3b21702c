package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sensorable/lsyolo"
	"github.com/sensorable/lsyolo/labelstudio"
	"github.com/spf13/cobra"
)

var (
	exportOpts      datasetFlags
	exportProject   int64
	exportTitle     string
	exportPoll      time.Duration
	exportTimeout   time.Duration
	exportNoConvert bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the annotations of a project and convert them into a YOLO dataset",
	Long: `Export creates a snapshot export of the Label Studio project, waits for it to
complete and saves it as <paths.export_dir>/project_<project>_<export>.json.

The export is then converted into a YOLO dataset in paths.dataset_dir, looking up
the images in paths.image_dir. Use --no-convert to only download the export.

Example:
  LABEL_STUDIO_API_KEY=... lsyolo export --project 3
  lsyolo export --config ls_settings.json --train-split 0.9`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportOpts.register(exportCmd.Flags())
	exportCmd.Flags().Int64Var(&exportProject, "project", 0, "Label Studio project ID (default: label_studio.project_id)")
	exportCmd.Flags().StringVar(&exportTitle, "title", "YOLO Export", "export title")
	exportCmd.Flags().DurationVar(&exportPoll, "poll", labelstudio.DefaultPollInterval, "export status poll interval")
	exportCmd.Flags().DurationVar(&exportTimeout, "timeout", 10*time.Minute, "give up waiting for the export after this long")
	exportCmd.Flags().BoolVar(&exportNoConvert, "no-convert", false, "only download the export")
}

func runExport(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("project") {
		cfg.LabelStudio.ProjectID = exportProject
	}
	if err := cfg.RequireServer(); err != nil {
		return err
	}
	if err := exportOpts.apply(cmd); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), exportTimeout)
	defer cancel()

	project := cfg.LabelStudio.ProjectID
	client := labelstudio.NewClient(cfg.LabelStudio.URL, cfg.LabelStudio.APIKey)
	client.PollInterval = exportPoll

	exportFile, err := downloadExport(ctx, client, project)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Export saved to %v\n", exportFile)
	if exportNoConvert {
		return nil
	}

	records, err := lsyolo.FromLabelStudio(appFs, exportFile)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		logger.Warnf("The export of project %v has no tasks", project)
		return nil
	}

	res, err := exportOpts.convertRecords(records, cfg.Paths.ImageDir)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dataset written to %v\n", res.ManifestPath)
	return nil
}

// downloadExport runs a snapshot export of project and saves it in the export directory.
func downloadExport(ctx context.Context, client *labelstudio.Client, project int64) (path string, err error) {
	export, err := client.CreateExport(ctx, project, exportTitle)
	if err != nil {
		return "", fmt.Errorf("cannot create export of project %v: %w", project, err)
	}
	logger.Infof("Waiting for export %v of project %v", export.ID, project)

	if export, err = client.WaitExport(ctx, project, export.ID); err != nil {
		return "", err
	}

	dir := cfg.Paths.ExportDir
	if err := appFs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create directory %q: %w", dir, err)
	}
	path = filepath.Join(dir, fmt.Sprintf("project_%v_%v.json", project, export.ID))
	f, err := appFs.Create(path)
	if err != nil {
		return "", fmt.Errorf("cannot write file %q: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("cannot write file %q: %w", path, closeErr)
		}
	}()

	n, err := client.DownloadExport(ctx, project, export.ID, f)
	if err != nil {
		return "", fmt.Errorf("cannot download export %v: %w", export.ID, err)
	}
	logger.Infof("Downloaded %d bytes", n)
	return path, nil
}
