// Package config loads the lsyolo settings from a JSON file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sensorable/lsyolo"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// DefaultFile is the settings file looked up in the working directory when no path is given.
const DefaultFile = "ls_settings.json"

// DotEnvFile holds environment variables, typically LABEL_STUDIO_API_KEY, read before the settings.
const DotEnvFile = ".env"

// EnvPrefix prefixes environment overrides, e.g. LSYOLO_DATASET_TRAIN_SPLIT.
const EnvPrefix = "LSYOLO"

// LabelStudio is the connection to the labeling server.
type LabelStudio struct {
	URL       string `mapstructure:"url" yaml:"url"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	ProjectID int64  `mapstructure:"project_id" yaml:"project_id"`
}

// Paths are the working directories of the labeling loop.
type Paths struct {
	ImageDir       string `mapstructure:"image_dir" yaml:"image_dir"`
	ExportDir      string `mapstructure:"export_dir" yaml:"export_dir"`
	DatasetDir     string `mapstructure:"dataset_dir" yaml:"dataset_dir"`
	PredictionsDir string `mapstructure:"predictions_dir" yaml:"predictions_dir"`
}

// Dataset controls the conversion.
type Dataset struct {
	TrainSplit   float64 `mapstructure:"train_split" yaml:"train_split"`
	Seed         uint64  `mapstructure:"seed" yaml:"seed"`
	BoxPolicy    string  `mapstructure:"box_policy" yaml:"box_policy"`
	LinkMode     string  `mapstructure:"link_mode" yaml:"link_mode"`
	ImageSize    int     `mapstructure:"image_size" yaml:"image_size"`
	RequireImage bool    `mapstructure:"require_image" yaml:"require_image"`
	ClassesFile  string  `mapstructure:"classes_file" yaml:"classes_file"`
}

// YOLO holds the prediction settings.
type YOLO struct {
	ModelScoreThreshold float64 `mapstructure:"model_score_threshold" yaml:"model_score_threshold"`
	ModelVersion        string  `mapstructure:"model_version" yaml:"model_version"`
}

// Config is the complete settings tree.
type Config struct {
	LabelStudio LabelStudio `mapstructure:"label_studio" yaml:"label_studio"`
	Paths       Paths       `mapstructure:"paths" yaml:"paths"`
	Dataset     Dataset     `mapstructure:"dataset" yaml:"dataset"`
	YOLO        YOLO        `mapstructure:"yolo" yaml:"yolo"`

	File string `mapstructure:"-" yaml:"-"` // The settings file used, if any.
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LabelStudio: LabelStudio{URL: "http://localhost:8080"},
		Paths: Paths{
			ImageDir:       "images",
			ExportDir:      "exports",
			DatasetDir:     "exports/yolo_dataset",
			PredictionsDir: "runs/detect/predict/labels",
		},
		Dataset: Dataset{
			TrainSplit: 0.8,
			Seed:       lsyolo.DefaultSeed,
			BoxPolicy:  string(lsyolo.BoxPass),
			LinkMode:   string(lsyolo.LinkSymlink),
			ImageSize:  640,
		},
		YOLO: YOLO{
			ModelScoreThreshold: 0.25,
			ModelVersion:        "yolo",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("label_studio.url", d.LabelStudio.URL)
	v.SetDefault("label_studio.api_key", d.LabelStudio.APIKey)
	v.SetDefault("label_studio.project_id", d.LabelStudio.ProjectID)
	v.SetDefault("paths.image_dir", d.Paths.ImageDir)
	v.SetDefault("paths.export_dir", d.Paths.ExportDir)
	v.SetDefault("paths.dataset_dir", d.Paths.DatasetDir)
	v.SetDefault("paths.predictions_dir", d.Paths.PredictionsDir)
	v.SetDefault("dataset.train_split", d.Dataset.TrainSplit)
	v.SetDefault("dataset.seed", d.Dataset.Seed)
	v.SetDefault("dataset.box_policy", d.Dataset.BoxPolicy)
	v.SetDefault("dataset.link_mode", d.Dataset.LinkMode)
	v.SetDefault("dataset.image_size", d.Dataset.ImageSize)
	v.SetDefault("dataset.require_image", d.Dataset.RequireImage)
	v.SetDefault("dataset.classes_file", d.Dataset.ClassesFile)
	v.SetDefault("yolo.model_score_threshold", d.YOLO.ModelScoreThreshold)
	v.SetDefault("yolo.model_version", d.YOLO.ModelVersion)
}

// Load reads the settings file at path from fs, applies environment overrides and validates the
// result. An empty path looks for DefaultFile in the working directory and falls back to the
// defaults if there is none.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The server credentials also come from the variables used by the Label Studio tooling.
	_ = v.BindEnv("label_studio.api_key", EnvPrefix+"_LABEL_STUDIO_API_KEY", "LABEL_STUDIO_API_KEY")
	_ = v.BindEnv("label_studio.url", EnvPrefix+"_LABEL_STUDIO_URL", "LABEL_STUDIO_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cannot read settings %q: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".json"))
		v.SetConfigType("json")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("cannot read settings: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Dataset.TrainSplit < 0 || c.Dataset.TrainSplit > 1 {
		errs = append(errs, fmt.Errorf("dataset.train_split must be in [0, 1], got %v", c.Dataset.TrainSplit))
	}
	if _, err := lsyolo.ParseBoxPolicy(c.Dataset.BoxPolicy); err != nil {
		errs = append(errs, fmt.Errorf("dataset.box_policy: %w", err))
	}
	mode, err := lsyolo.ParseLinkMode(c.Dataset.LinkMode)
	if err != nil {
		errs = append(errs, fmt.Errorf("dataset.link_mode: %w", err))
	}
	if mode == lsyolo.LinkResize && c.Dataset.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("dataset.image_size must be positive for link_mode %v", mode))
	}
	if c.YOLO.ModelScoreThreshold < 0 || c.YOLO.ModelScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("yolo.model_score_threshold must be in [0, 1], got %v", c.YOLO.ModelScoreThreshold))
	}
	return errors.Join(errs...)
}

// LoadDotEnv sets the variables of the dotenv file at path that are not already set in the
// environment. A missing file is not an error.
func LoadDotEnv(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", path, err)
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); !set {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// RequireConnection reports an error unless the server URL and API key are set.
func (c *Config) RequireConnection() error {
	switch {
	case c.LabelStudio.URL == "":
		return errors.New("label_studio.url is not set")
	case c.LabelStudio.APIKey == "":
		return errors.New("label_studio.api_key is not set (or LABEL_STUDIO_API_KEY)")
	}
	return nil
}

// RequireServer reports an error unless the Label Studio connection and project are configured.
func (c *Config) RequireServer() error {
	if err := c.RequireConnection(); err != nil {
		return err
	}
	if c.LabelStudio.ProjectID <= 0 {
		return errors.New("label_studio.project_id is not set")
	}
	return nil
}

// SaveProjectID sets label_studio.project_id in the settings file at path, creating the file if
// it does not exist. Other settings in the file are kept.
func SaveProjectID(fs afero.Fs, path string, id int64) error {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot read settings %q: %w", path, err)
	}
	v.Set("label_studio.project_id", id)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("cannot write settings %q: %w", path, err)
	}
	return nil
}
