package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/menta2k/fruitcount"
	"github.com/menta2k/fruitcount/internal/config"
	"github.com/menta2k/fruitcount/internal/logging"
)

// Global flags
var (
	configFlag     string
	serviceURLFlag string
	backendFlag    string
	logLevelFlag   string
)

// rootCmd is the main Cobra command for the fruitcount CLI.
var rootCmd = &cobra.Command{
	Use:   "fruitcount",
	Short: "Count fruit in a photo and estimate how many cases it fills",
	Long: `fruitcount sends a photo (optionally cropped to the fruit) to a detection
backend, reports the number of detected units and estimates the number of
cases from the average unit weight and the container weight.

Examples:
  fruitcount detect --image crate.jpg --container-weight 18
  fruitcount detect --pick --auto-crop
  fruitcount detect -i crate.jpg --crop 0.1,0.2,0.6,0.5 --save-annotated out.jpg
  fruitcount weight set 180`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logging.Init(cfg.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", config.GetConfigPath(), "Path to the JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&serviceURLFlag, "service-url", "", "Detection service base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Detection backend: service or ollama (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(detectCmd, weightCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("fruitcount failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file, then applies env and flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if serviceURLFlag != "" {
		cfg.Service.BaseURL = serviceURLFlag
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// optionsFromConfig maps the file configuration onto library options
func optionsFromConfig(cfg *config.Config) fruitcount.Options {
	opts := fruitcount.DefaultOptions()
	opts.Backend = cfg.Backend
	opts.ServiceURL = cfg.Service.BaseURL
	opts.Timeout = cfg.Timeout()
	opts.OllamaURL = cfg.Ollama.URL
	opts.OllamaModel = cfg.Ollama.Model
	opts.CroppingEnabled = cfg.Workflow.CroppingEnabled
	opts.AutoCrop = cfg.Workflow.AutoCrop
	opts.JPEGQuality = cfg.Workflow.JPEGQuality
	opts.Acquire.PreviewMaxDim = cfg.Acquire.PreviewMaxDim
	opts.Acquire.MaxFileSize = cfg.Acquire.MaxFileSize
	opts.ROI.EdgeWeight = cfg.ROI.EdgeWeight
	opts.ROI.SaturationWeight = cfg.ROI.SaturationWeight
	opts.ROI.Sensitivity = cfg.ROI.Sensitivity
	opts.ROI.PaddingRatio = cfg.ROI.PaddingRatio
	opts.AverageUnitWeight = cfg.Weights.AverageUnitWeight
	return opts
}
