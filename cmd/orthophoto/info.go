package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	orthophoto "github.com/geodrape/go-orthophoto"
)

var infoCmd = &cobra.Command{
	Use:   "info <mosaic.tiff>",
	Short: "Show the georeferencing of a written mosaic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()

		mosaic, err := orthophoto.ReadGeoTIFF(file)
		if err != nil {
			return err
		}
		bound := mosaic.Bound()
		fmt.Printf("size: %dx%d\n", mosaic.Width(), mosaic.Height())
		fmt.Printf("crs: %s\n", mosaic.CRS)
		fmt.Printf("origin: %f, %f\n", mosaic.OriginX, mosaic.OriginY)
		fmt.Printf("pixel size: %f, %f\n", mosaic.PixelSizeX, mosaic.PixelSizeY)
		fmt.Printf("extent: %f, %f - %f, %f\n", bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1])
		return nil
	},
}

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "List the layers available in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(catalog))
		for name := range catalog {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			layer := catalog[name]
			switch layer.Protocol {
			case orthophoto.WMS:
				fmt.Printf("%s\t%s\t%s\t%s\n", name, layer.Protocol, layer.CRS, layer.LayerID)
			default:
				fmt.Printf("%s\t%s\t%s\t%s\tzoom %d\n", name, layer.Protocol, layer.CRS, layer.LayerID, layer.Zoom)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(layersCmd)
}
