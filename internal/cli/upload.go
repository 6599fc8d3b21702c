package cli

import (
	"fmt"
	"path/filepath"

	"github.com/sensorable/lsyolo"
	"github.com/sensorable/lsyolo/labelstudio"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// storageRegexFilter selects the files a local storage imports.
const storageRegexFilter = `.*.(jpe?g|png|gif)$`

var (
	uploadProject  int64
	uploadImageDir string
	uploadTasks    bool
	uploadDocRoot  string
)

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Add the images of a directory to a project",
	Long: `Upload makes the images in paths.image_dir available as tasks of the Label Studio
project. The server must see the directory at the same path and serve local files
(LABEL_STUDIO_LOCAL_FILES_SERVING_ENABLED=true).

By default a local files storage is created for the directory and synced, which
imports every jpg, png and gif. A directory that already has a storage in the project
is skipped. With --tasks one task per image is imported instead, referencing the
image relative to --document-root.

Example:
  lsyolo upload --image-dir /srv/images
  lsyolo upload --tasks --image-dir /srv/images/batch2 --document-root /srv`,
	Args: cobra.NoArgs,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	f := uploadCmd.Flags()
	f.Int64Var(&uploadProject, "project", 0, "Label Studio project ID (default: label_studio.project_id)")
	f.StringVar(&uploadImageDir, "image-dir", "", "directory with the images (default: paths.image_dir)")
	f.BoolVar(&uploadTasks, "tasks", false, "import one task per image instead of creating a storage")
	f.StringVar(&uploadDocRoot, "document-root", "", "local files document root of the server (default: parent of the image directory)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("project") {
		cfg.LabelStudio.ProjectID = uploadProject
	}
	if flags.Changed("image-dir") {
		cfg.Paths.ImageDir = uploadImageDir
	}
	if err := cfg.RequireServer(); err != nil {
		return err
	}

	dir, err := filepath.Abs(cfg.Paths.ImageDir)
	if err != nil {
		return err
	}
	if isDir, err := afero.IsDir(appFs, dir); err != nil || !isDir {
		return fmt.Errorf("image directory %q not found", dir)
	}

	if uploadTasks {
		return importTasks(cmd, dir)
	}
	return syncStorage(cmd, dir)
}

// importTasks creates a task for every image in dir.
func importTasks(cmd *cobra.Command, dir string) error {
	images, err := lsyolo.ImageFiles(appFs, dir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %v", dir)
	}

	root := uploadDocRoot
	if root == "" {
		root = filepath.Dir(dir)
	}
	if root, err = filepath.Abs(root); err != nil {
		return err
	}
	data := make([]lsyolo.LSTaskData, len(images))
	for i, path := range images {
		rel, err := filepath.Rel(root, path)
		if err != nil || !filepath.IsLocal(rel) {
			return fmt.Errorf("image %v is not below the document root %v", path, root)
		}
		data[i].Image = lsyolo.LocalFilesRef(rel)
	}

	project := cfg.LabelStudio.ProjectID
	logger.Infof("Importing %d images into project %v", len(data), project)
	n, err := newClient().ImportTasks(cmd.Context(), project, data)
	if err != nil {
		return fmt.Errorf("cannot import tasks: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tasks into project %v\n", n, project)
	return nil
}

// syncStorage creates a local files storage for dir and syncs it.
func syncStorage(cmd *cobra.Command, dir string) error {
	ctx := cmd.Context()
	client := newClient()
	project := cfg.LabelStudio.ProjectID

	existing, err := client.LocalStorages(ctx, project)
	if err != nil {
		return fmt.Errorf("cannot list storages: %w", err)
	}
	for _, s := range existing {
		if s.Path == dir {
			logger.Warnf("%v is already storage %v of project %v, skipping", dir, s.ID, project)
			return nil
		}
	}

	storage, err := client.CreateLocalStorage(ctx, labelstudio.LocalStorage{
		Project:     project,
		Title:       "Images from " + dir,
		Path:        dir,
		RegexFilter: storageRegexFilter,
		UseBlobURLs: true,
	})
	if err != nil {
		return fmt.Errorf("cannot create storage: %w", err)
	}
	logger.Infof("Created storage %v for %v, syncing", storage.ID, dir)

	synced, err := client.SyncLocalStorage(ctx, storage.ID)
	if err != nil {
		return fmt.Errorf("storage %v created but not synced, sync it at %v/projects/%v/settings/storage: %w",
			storage.ID, cfg.LabelStudio.URL, project, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced storage %v of project %v: %v\n", synced.ID, project, synced.Status)
	return nil
}
