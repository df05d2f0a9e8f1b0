package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	orthophoto "github.com/geodrape/go-orthophoto"
)

// IGN LiDAR HD filenames carry the Lambert-93 kilometer coordinates of the
// tile's northwest corner, e.g. LHD_FXX_0700_6431_PTS_C_LAMB93_IGN69.
var ignTileName = regexp.MustCompile(`_(\d{4})_(\d{4})_PTS_[A-Z]+_(?:LA93|LAMB93)_`)

var fetchCmd = &cobra.Command{
	Use:   "fetch [lidar-tile-filename...]",
	Short: "Fetch the imagery mosaic covering a LiDAR tile",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().String("layer", "ign-ortho", "catalog layer to fetch from")
	fetchCmd.Flags().String("bbox", "", "bounding box as 'min-x,min-y,max-x,max-y'")
	fetchCmd.Flags().String("crs", "EPSG:2154", "CRS of the bounding box and of the output mosaic")
	fetchCmd.Flags().Float64("margin", 100, "safety margin added on all sides, in CRS units")
	fetchCmd.Flags().Float64("resolution", 0.20, "ground resolution for WMS area requests, in layer CRS units per pixel")
	fetchCmd.Flags().Float64("pixel-size", 0, "pixel size of the reprojected mosaic, in CRS units (0 derives it from the source)")
	fetchCmd.Flags().Int("concurrency", 4, "maximum concurrent tile fetches")
	fetchCmd.Flags().StringP("format", "f", "geotiff", "output format (geotiff|png)")
	fetchCmd.Flags().BoolP("worldfile", "w", false, "write a world file next to PNG output")
	fetchCmd.Flags().StringP("output", "o", "", "output file (default derived from the bounding box)")

	for _, flag := range []string{"layer", "margin", "resolution", "pixel-size", "concurrency", "format"} {
		_ = viper.BindPFlag(flag, fetchCmd.Flags().Lookup(flag))
	}

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	fetcher, err := orthophoto.NewFetcher(
		orthophoto.WithCacheDir(viper.GetString("cache-dir")),
		orthophoto.WithUserAgent(viper.GetString("user-agent")),
	)
	if err != nil {
		return err
	}
	service := orthophoto.NewService(catalog, fetcher,
		orthophoto.WithMargin(viper.GetFloat64("margin")),
		orthophoto.WithResolution(viper.GetFloat64("resolution")),
		orthophoto.WithTargetPixelSize(viper.GetFloat64("pixel-size")),
		orthophoto.WithFetchConcurrency(viper.GetInt("concurrency")),
	)

	crs, _ := cmd.Flags().GetString("crs")
	layerName := viper.GetString("layer")

	type job struct {
		bound  orb.Bound
		output string
	}
	var jobs []job

	if bboxFlag, _ := cmd.Flags().GetString("bbox"); bboxFlag != "" {
		bound, err := parseBBox(bboxFlag)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{bound: bound})
	}
	for _, arg := range args {
		bound, err := ignTileBound(arg)
		if err != nil {
			logger.Warn("skipping file", "file", arg, "err", err)
			continue
		}
		jobs = append(jobs, job{bound: bound})
	}
	if len(jobs) == 0 {
		return errors.New("nothing to fetch: pass --bbox or LiDAR tile filenames")
	}

	format, _ := cmd.Flags().GetString("format")
	worldFile, _ := cmd.Flags().GetBool("worldfile")
	output, _ := cmd.Flags().GetString("output")
	if output != "" && len(jobs) > 1 {
		return errors.New("--output cannot be combined with multiple tiles")
	}

	for _, j := range jobs {
		logger.Info("fetching", "layer", layerName, "bound", j.bound, "crs", crs)
		mosaic, err := service.Orthophoto(cmd.Context(), layerName, j.bound, crs)
		if err != nil {
			return err
		}
		logger.Info("assembled", "width", mosaic.Width(), "height", mosaic.Height(),
			"pixel_size_x", mosaic.PixelSizeX, "pixel_size_y", mosaic.PixelSizeY)

		name := output
		if name == "" {
			name = fmt.Sprintf("ortho-%.0f-%.0f.%s", j.bound.Min[0], j.bound.Max[1], outputExt(format))
		}
		if err := writeMosaic(mosaic, name, format, worldFile); err != nil {
			return err
		}
		logger.Info("written", "file", name)
	}
	return nil
}

func writeMosaic(mosaic *orthophoto.Mosaic, name, format string, worldFile bool) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	defer file.Close()

	switch format {
	case "geotiff":
		if err := orthophoto.WriteGeoTIFF(file, mosaic); err != nil {
			return err
		}
	case "png":
		if err := mosaic.EncodePNG(file); err != nil {
			return err
		}
		if worldFile {
			worldName := strings.TrimSuffix(name, filepath.Ext(name)) + ".pgw"
			worldOut, err := os.Create(worldName)
			if err != nil {
				return err
			}
			defer worldOut.Close()
			if err := mosaic.WriteWorldFile(worldOut); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return file.Close()
}

func outputExt(format string) string {
	if format == "png" {
		return "png"
	}
	return "tiff"
}

// parseBBox parses 'min-x,min-y,max-x,max-y'.
func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox %q: expected 4 comma-separated values", s)
	}
	values := make([]float64, 4)
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		values[i] = value
	}
	if values[0] >= values[2] || values[1] >= values[3] {
		return orb.Bound{}, fmt.Errorf("bbox %q: min must be less than max", s)
	}
	return orb.Bound{
		Min: orb.Point{values[0], values[1]},
		Max: orb.Point{values[2], values[3]},
	}, nil
}

// ignTileBound derives the 1 km Lambert-93 extent of an IGN LiDAR tile from
// its filename.
func ignTileBound(filename string) (orb.Bound, error) {
	m := ignTileName.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return orb.Bound{}, fmt.Errorf("cannot extract Lambert-93 coordinates from filename %q", filename)
	}
	xKm, _ := strconv.Atoi(m[1])
	yKm, _ := strconv.Atoi(m[2])
	// The filename names the northwest corner in kilometers.
	return orb.Bound{
		Min: orb.Point{float64(xKm) * 1000, float64(yKm)*1000 - 1000},
		Max: orb.Point{float64(xKm)*1000 + 1000, float64(yKm) * 1000},
	}, nil
}
