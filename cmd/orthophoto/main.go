// Command orthophoto fetches aerial imagery covering LiDAR tiles and writes
// georeferenced mosaics for the downstream point-cloud colorization step.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
