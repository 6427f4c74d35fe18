package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "placesweep",
	Short: "placesweep - grid sweep of Google Places nearby search",
	Long: `placesweep tiles an area into a grid of search origins, runs a paginated
Google Places nearby search at each origin, deduplicates the results and
exports every place plus the low-rated subset to local files, S3,
Google Sheets or OpenSearch.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(gridCmd)
	rootCmd.AddCommand(historyCmd)
}
