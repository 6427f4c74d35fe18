package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ca-srg/placesweep/internal/grid"
	"github.com/ca-srg/placesweep/internal/sweep"
	"github.com/ca-srg/placesweep/internal/types"
)

var (
	gridOpts gridOptions
	gridJSON bool
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Print the search grid without calling the Places API",
	Long: `
The grid command prints the search origins a sweep would visit, in the
order they would be searched, together with the south-west and north-east
corners of the grid.
`,
	RunE: runGrid,
}

func init() {
	gridOpts.register(gridCmd.Flags())
	gridCmd.Flags().BoolVar(&gridJSON, "json", false, "Print the grid as JSON")
}

type gridListing struct {
	Area      string             `json:"area"`
	Spacing   float64            `json:"spacing"`
	Extent    int                `json:"extent"`
	SouthWest types.Coordinate   `json:"south_west"`
	NorthEast types.Coordinate   `json:"north_east"`
	Points    []types.Coordinate `json:"points"`
}

func runGrid(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), func(c *types.Config) { gridOpts.apply(cmd.Flags(), c) })
	if err != nil {
		return err
	}

	areas, err := resolveAreas(cfg, &gridOpts)
	if err != nil {
		return err
	}

	listings := make([]gridListing, 0, len(areas))
	for _, area := range areas {
		listing, err := planArea(areaRequest(cfg, area))
		if err != nil {
			return fmt.Errorf("area %s: %w", area.Name, err)
		}
		listings = append(listings, listing)
	}

	if gridJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(listings)
	}
	for _, listing := range listings {
		printGrid(os.Stdout, listing)
	}
	return nil
}

func planArea(req sweep.Request) (gridListing, error) {
	points, err := sweep.Plan(req)
	if err != nil {
		return gridListing{}, err
	}
	sw, ne, _ := grid.Bounds(points)
	return gridListing{
		Area:      req.Area,
		Spacing:   req.Spacing,
		Extent:    req.Extent,
		SouthWest: sw,
		NorthEast: ne,
		Points:    points,
	}, nil
}

func printGrid(w io.Writer, listing gridListing) {
	fmt.Fprintf(w, "Area: %s\n", listing.Area)
	fmt.Fprintf(w, "  Grid: %d points (extent %d, spacing %g°)\n", len(listing.Points), listing.Extent, listing.Spacing)
	fmt.Fprintf(w, "  South-west: %s\n", listing.SouthWest)
	fmt.Fprintf(w, "  North-east: %s\n", listing.NorthEast)
	for i, p := range listing.Points {
		fmt.Fprintf(w, "  %4d  %s\n", i+1, p)
	}
}
