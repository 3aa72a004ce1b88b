package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/menta2k/fruitcount/pkg/service"
)

var weightCmd = &cobra.Command{
	Use:   "weight",
	Short: "Read or change the average unit weight stored by the detection service",
}

var weightGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the average unit weight in grams",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newServiceClient()
		if err != nil {
			return err
		}
		grams, err := svc.GetAverageWeight(commandContext(cmd))
		if err != nil {
			return err
		}
		fmt.Printf("%g\n", grams)
		return nil
	},
}

var weightSetCmd = &cobra.Command{
	Use:   "set <grams>",
	Short: "Store a new average unit weight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grams, err := strconv.ParseFloat(args[0], 64)
		if err != nil || !(grams > 0) {
			return fmt.Errorf("average weight must be a positive number, got %q", args[0])
		}

		svc, err := newServiceClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		if err := svc.Ping(ctx); err != nil {
			return fmt.Errorf("detection service unreachable at %s: %w", svc.BaseURL(), err)
		}
		if err := svc.SetAverageWeight(ctx, grams); err != nil {
			return err
		}
		fmt.Printf("average weight set to %g g\n", grams)
		return nil
	},
}

func init() {
	weightCmd.AddCommand(weightGetCmd, weightSetCmd)
}

func newServiceClient() (*service.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return service.NewClient(cfg.Service.BaseURL, cfg.Timeout())
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
