package cli

import (
	"fmt"
	"strconv"

	"github.com/sensorable/lsyolo"
	"github.com/sensorable/lsyolo/internal/config"
	"github.com/sensorable/lsyolo/labelstudio"
	"github.com/spf13/cobra"
)

var (
	projectTitle          string
	projectLabels         []string
	projectClasses        string
	projectSave           bool
	projectAllowDuplicate bool

	deleteTitle string
	deleteYes   bool

	storagesProject int64
)

// projectCmd represents the project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage Label Studio projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a bounding box project",
	Long: `Create makes a new Label Studio project with one rectangle label per class. The
classes come from --label, or from a classes.txt written by a previous conversion.

Predictions below yolo.model_score_threshold are hidden in the labeling editor.
With --save the new project ID is written to the settings file.

Example:
  lsyolo project create --title "Parking lot" --label car --label person --save
  lsyolo project create --classes exports/yolo_dataset/classes.txt`,
	Args: cobra.NoArgs,
	RunE: runProjectCreate,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project with all its tasks and annotations",
	Long: `Delete removes a project by ID, or by exact title with --title. This cannot be
undone, so --yes is required.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProjectDelete,
}

var projectStoragesCmd = &cobra.Command{
	Use:   "storages",
	Short: "List the local files storages of a project",
	Args:  cobra.NoArgs,
	RunE:  runProjectStorages,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd, projectDeleteCmd, projectStoragesCmd)

	f := projectCreateCmd.Flags()
	f.StringVar(&projectTitle, "title", "YOLO Detection Project", "project title")
	f.StringArrayVar(&projectLabels, "label", nil, "class name, repeatable")
	f.StringVar(&projectClasses, "classes", "", "take the class names from this classes.txt")
	f.BoolVar(&projectSave, "save", false, "write the project ID to the settings file")
	f.BoolVar(&projectAllowDuplicate, "allow-duplicate", false, "create the project even if the title is taken")

	f = projectDeleteCmd.Flags()
	f.StringVar(&deleteTitle, "title", "", "delete the project with this exact title")
	f.BoolVar(&deleteYes, "yes", false, "confirm the deletion")

	projectStoragesCmd.Flags().Int64Var(&storagesProject, "project", 0, "Label Studio project ID (default: label_studio.project_id)")
}

func newClient() *labelstudio.Client {
	return labelstudio.NewClient(cfg.LabelStudio.URL, cfg.LabelStudio.APIKey)
}

// projectLabelNames returns the class names for a new project.
func projectLabelNames() ([]string, error) {
	if len(projectLabels) > 0 {
		return projectLabels, nil
	}
	if projectClasses == "" {
		return nil, fmt.Errorf("no classes: set --label or --classes")
	}
	catalog, err := lsyolo.LoadCatalog(appFs, projectClasses)
	if err != nil {
		return nil, err
	}
	if catalog.Len() == 0 {
		return nil, fmt.Errorf("no classes in %v", projectClasses)
	}
	return catalog.Names(), nil
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireConnection(); err != nil {
		return err
	}
	names, err := projectLabelNames()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	client := newClient()
	if !projectAllowDuplicate {
		existing, err := client.Projects(ctx, projectTitle)
		if err != nil {
			return fmt.Errorf("cannot list projects: %w", err)
		}
		if len(existing) > 0 {
			return fmt.Errorf("project %q already exists with ID %v (use --allow-duplicate to create another)",
				projectTitle, existing[0].ID)
		}
	}

	project, err := client.CreateProject(ctx, projectTitle, labelstudio.LabelConfig(names, cfg.YOLO.ModelScoreThreshold))
	if err != nil {
		return fmt.Errorf("cannot create project: %w", err)
	}
	logger.Infof("Created project %v %q with %d classes", project.ID, project.Title, len(names))
	fmt.Fprintf(cmd.OutOrStdout(), "Project %v: %v/projects/%v\n", project.ID, client.BaseURL, project.ID)

	if projectSave {
		file := cfg.File
		if file == "" {
			file = config.DefaultFile
		}
		if err := config.SaveProjectID(appFs, file, project.ID); err != nil {
			return err
		}
		logger.Infof("Saved project_id %v to %v", project.ID, file)
	}
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireConnection(); err != nil {
		return err
	}
	ctx := cmd.Context()
	client := newClient()

	var project *labelstudio.Project
	switch {
	case len(args) == 1:
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid project ID %q", args[0])
		}
		if project, err = client.Project(ctx, id); err != nil {
			return fmt.Errorf("cannot find project %v: %w", id, err)
		}
	case deleteTitle != "":
		projects, err := client.Projects(ctx, deleteTitle)
		if err != nil {
			return fmt.Errorf("cannot list projects: %w", err)
		}
		if len(projects) == 0 {
			return fmt.Errorf("no project titled %q", deleteTitle)
		} else if len(projects) > 1 {
			return fmt.Errorf("%d projects are titled %q, delete by ID", len(projects), deleteTitle)
		}
		project = &projects[0]
	default:
		return fmt.Errorf("give a project ID or --title")
	}

	if !deleteYes {
		return fmt.Errorf("refusing to delete project %v %q with %d tasks without --yes",
			project.ID, project.Title, project.TaskNumber)
	}
	if err := client.DeleteProject(ctx, project.ID); err != nil {
		return fmt.Errorf("cannot delete project %v: %w", project.ID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %v %q\n", project.ID, project.Title)
	return nil
}

func runProjectStorages(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("project") {
		cfg.LabelStudio.ProjectID = storagesProject
	}
	if err := cfg.RequireServer(); err != nil {
		return err
	}
	project := cfg.LabelStudio.ProjectID
	storages, err := newClient().LocalStorages(cmd.Context(), project)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(storages) == 0 {
		fmt.Fprintf(out, "No local storages in project %v\n", project)
		return nil
	}
	for _, s := range storages {
		fmt.Fprintf(out, "%v\t%v\t%v\tstatus=%v\tlast_sync=%v\tsynced=%d\n",
			s.ID, s.Title, s.Path, s.Status, s.LastSync, s.LastSyncCount)
		if s.Status == labelstudio.StatusFailed {
			logger.Warnf("Storage %v failed to sync, see %v/projects/%v/settings/storage", s.ID, cfg.LabelStudio.URL, project)
		}
	}
	return nil
}
