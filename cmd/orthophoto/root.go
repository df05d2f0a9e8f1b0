package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	orthophoto "github.com/geodrape/go-orthophoto"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "orthophoto",
	Short: "Fetch and mosaic aerial imagery covering LiDAR tiles",
	Long: `orthophoto drapes LiDAR point-cloud tiles with aerial imagery: given a
tile's bounding box and a layer from the catalog, it fetches the covering
imagery over WMS, WMTS or TMS, assembles one seamless mosaic, and reprojects
it into the point cloud's coordinate system. The result is a georeferenced
raster ready for a colorization pipeline such as PDAL's filters.colorization.

Examples:
  # Imagery for one IGN LiDAR HD tile, named by its distributed filename
  orthophoto fetch LHD_FXX_0700_6431_PTS_C_LAMB93_IGN69.copc.laz

  # The same tile by explicit bounding box
  orthophoto fetch --bbox 700000,6430000,701000,6431000 --crs EPSG:2154 -o tile.tiff

  # PNG plus world file from OpenStreetMap tiles
  orthophoto fetch --layer osm --bbox 700000,6430000,701000,6431000 --crs EPSG:2154 --format png -w -o tile.png

  # Show the georeferencing of a written mosaic
  orthophoto info tile.tiff`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.orthophoto.yaml)")
	rootCmd.PersistentFlags().String("cache-dir", ".cache", "directory for the persistent imagery cache")
	rootCmd.PersistentFlags().String("user-agent", "go-orthophoto", "HTTP User-Agent header")

	_ = viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("user-agent", rootCmd.PersistentFlags().Lookup("user-agent"))
}

// initConfig reads in the config file and environment variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".orthophoto")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("ORTHOPHOTO")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// loadCatalog returns the built-in layers plus any layers declared in the
// config file, which override built-ins of the same name.
func loadCatalog() (orthophoto.Catalog, error) {
	catalog := orthophoto.DefaultCatalog()
	var configured []orthophoto.Layer
	if err := viper.UnmarshalKey("layers", &configured); err != nil {
		return nil, fmt.Errorf("parse layer catalog: %w", err)
	}
	for _, layer := range configured {
		if err := layer.Validate(); err != nil {
			return nil, err
		}
		catalog[layer.Name] = layer
	}
	return catalog, nil
}
