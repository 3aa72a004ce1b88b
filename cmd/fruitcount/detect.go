package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/menta2k/fruitcount"
	"github.com/menta2k/fruitcount/pkg/acquire"
	"github.com/menta2k/fruitcount/pkg/types"
	"github.com/menta2k/fruitcount/pkg/workflow"
)

// detect flags
var (
	imageFlag           string
	pickFlag            bool
	cropFlag            string
	autoCropFlag        bool
	noCropFlag          bool
	averageWeightFlag   string
	containerWeightFlag string
	saveAnnotatedFlag   string
	saveSelectionFlag   string
	jsonFlag            bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect fruit in a photo and estimate cases",
	Long: `Selects a photo, crops it (unless --no-crop is given), submits it to the
detection backend and prints the count and the case estimate.

Without --crop the whole frame is used, or the suggested region with
--auto-crop.`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func init() {
	f := detectCmd.Flags()
	f.StringVarP(&imageFlag, "image", "i", "", "Photo to analyse")
	f.BoolVar(&pickFlag, "pick", false, "Choose the photo with a file dialog")
	f.StringVar(&cropFlag, "crop", "", "Crop selection as normalized x,y,w,h (e.g. 0.1,0.1,0.8,0.8)")
	f.BoolVar(&autoCropFlag, "auto-crop", false, "Start from a suggested crop region")
	f.BoolVar(&noCropFlag, "no-crop", false, "Submit the photo without cropping")
	f.StringVar(&averageWeightFlag, "average-weight", "", "Average unit weight in grams (pushed to the service)")
	f.StringVar(&containerWeightFlag, "container-weight", "", "Container weight in kilograms")
	f.StringVar(&saveAnnotatedFlag, "save-annotated", "", "Download the annotated detection image to this path")
	f.StringVar(&saveSelectionFlag, "save-selection", "", "Write the photo with the crop selection outlined (jpg, png or webp)")
	f.BoolVar(&jsonFlag, "json", false, "Print the result as JSON")
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := optionsFromConfig(cfg)
	if noCropFlag {
		opts.CroppingEnabled = false
	}
	if autoCropFlag {
		opts.AutoCrop = true
	}

	var selection *types.Box
	if cropFlag != "" {
		box, err := parseBox(cropFlag)
		if err != nil {
			return err
		}
		selection = &box
	}

	path := imageFlag
	if path == "" && pickFlag {
		path, err = acquire.PickFile()
		if err != nil {
			return fmt.Errorf("file dialog failed: %w", err)
		}
	}
	if path == "" {
		return fmt.Errorf("no image selected (use --image or --pick)")
	}

	app, err := fruitcount.New(opts)
	if err != nil {
		return err
	}
	ctrl := app.Controller
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ctrl.StartAndWait(ctx)
	defer ctrl.Wait()
	if averageWeightFlag != "" && !ctrl.SetAverageUnitWeight(averageWeightFlag) {
		log.Warn().Str("input", averageWeightFlag).Msg("Ignoring invalid average weight")
	}
	if containerWeightFlag != "" {
		ctrl.SetContainerWeight(containerWeightFlag)
	}

	if err := ctrl.SelectFile(path); err != nil {
		return err
	}

	if opts.CroppingEnabled {
		if selection != nil {
			ctrl.SetSelection(*selection)
		}
		if saveSelectionFlag != "" {
			if err := ctrl.SaveSelection(saveSelectionFlag); err != nil {
				log.Error().Err(err).Msg("Failed to save selection overlay")
			}
		}
		if err := ctrl.FinalizeCrop(); err != nil {
			return fmt.Errorf("crop failed: %w", err)
		}
	}

	if _, err := ctrl.SubmitAndWait(ctx); err != nil {
		if msg := ctrl.View().Error; msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		return err
	}

	if saveAnnotatedFlag != "" {
		if err := ctrl.SaveAnnotated(ctx, saveAnnotatedFlag); err != nil {
			log.Error().Err(err).Msg("Failed to save annotated image")
		}
	}

	return printView(ctrl.View())
}

func printView(v workflow.View) error {
	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	fmt.Println()
	fmt.Println("============================================")
	fmt.Println("Fruit Count")
	fmt.Println("============================================")
	fmt.Printf("Image: %s\n", v.ImageName)
	if v.Metadata != nil && v.Metadata.CameraModel != "" {
		fmt.Printf("Camera: %s %s\n", v.Metadata.CameraMake, v.Metadata.CameraModel)
	}
	fmt.Printf("Estimated units: %d\n", v.Count)
	fmt.Printf("Average unit weight: %g g\n", v.Weights.AverageUnitWeight)
	if v.CasesText != "" {
		fmt.Printf("Container weight: %g kg\n", v.Weights.ContainerWeight)
		fmt.Printf("Estimated cases: %s\n", v.CasesText)
	}
	if v.AnnotatedURL != "" {
		fmt.Printf("Annotated image: %s\n", v.AnnotatedURL)
	}
	return nil
}

// parseBox parses "x,y,w,h" in normalized coordinates
func parseBox(s string) (types.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.Box{}, fmt.Errorf("crop must be x,y,w,h, got %q", s)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return types.Box{}, fmt.Errorf("invalid crop value %q: %w", p, err)
		}
		if f < 0 || f > 1 {
			return types.Box{}, fmt.Errorf("crop value %q outside 0..1", p)
		}
		v[i] = f
	}

	box := types.Box{X: v[0], Y: v[1], W: v[2], H: v[3]}
	if box.Empty() {
		return types.Box{}, fmt.Errorf("crop %q has no area", s)
	}
	return box, nil
}
