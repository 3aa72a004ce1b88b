package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/fruitcount"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fruitcount version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fruitcount %s\n", fruitcount.GetVersion())
	},
}
