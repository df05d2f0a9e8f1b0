package orthophoto

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// A Layer describes one named imagery source: its protocol family, endpoint
// template, projection, and protocol-specific parameters. Layers are loaded
// once from a catalog and never mutated.
//
// URL is an endpoint template. For WMTS and TMS it may contain the
// placeholders {z}, {x}, {y}, {layer}, {style}, {matrixset}, {format} and
// {key}; for WMS it is the base GetMap endpoint, to which the standard query
// parameters are appended.
type Layer struct {
	Name      string   `mapstructure:"name" validate:"required"`
	Protocol  Protocol `mapstructure:"protocol" validate:"required,oneof=wms wmts tms"`
	URL       string   `mapstructure:"url" validate:"required"`
	LayerID   string   `mapstructure:"layer_id" validate:"required"`
	MatrixSet string   `mapstructure:"matrix_set"`
	Style     string   `mapstructure:"style"`
	Format    string   `mapstructure:"format"`
	CRS       string   `mapstructure:"crs" validate:"required"`
	Zoom      int      `mapstructure:"zoom" validate:"gte=0,lte=24"`
	MaxZoom   int      `mapstructure:"max_zoom" validate:"gte=0,lte=24"`
	TileSize  int      `mapstructure:"tile_size"`
	AccessKey string   `mapstructure:"access_key"`
}

var layerValidate = validator.New()

// Validate checks l for consistency, including the protocol-specific
// requirements the struct tags cannot express.
func (l Layer) Validate() error {
	if err := layerValidate.Struct(l); err != nil {
		return fmt.Errorf("layer %s: %w", l.Name, err)
	}
	switch l.Protocol {
	case WMTS, TMS:
		if l.MaxZoom > 0 && l.Zoom > l.MaxZoom {
			return fmt.Errorf("layer %s: %w", l.Name, &InvalidZoomError{Zoom: l.Zoom, MaxZoom: l.MaxZoom})
		}
	case WMS:
		// Zoom is meaningless for area requests.
	}
	return nil
}

// tileSize returns the layer's tile size, defaulting to 256.
func (l Layer) tileSize() int {
	if l.TileSize == 0 {
		return 256
	}
	return l.TileSize
}

// A Catalog maps layer names to layer descriptors.
type Catalog map[string]Layer

// NewCatalog builds a catalog from layers, validating each one.
func NewCatalog(layers ...Layer) (Catalog, error) {
	catalog := make(Catalog, len(layers))
	for _, layer := range layers {
		if err := layer.Validate(); err != nil {
			return nil, err
		}
		catalog[layer.Name] = layer
	}
	return catalog, nil
}

// Layer returns the layer named name.
func (c Catalog) Layer(name string) (Layer, error) {
	layer, ok := c[name]
	if !ok {
		return Layer{}, fmt.Errorf("unknown layer %q", name)
	}
	return layer, nil
}

// DefaultCatalog returns the built-in layers: the IGN orthophoto WMTS layer
// used to colorize the French national LiDAR scans, the equivalent WMS
// endpoint, and OpenStreetMap's standard tile pyramid.
func DefaultCatalog() Catalog {
	catalog, err := NewCatalog(
		Layer{
			Name:      "ign-ortho",
			Protocol:  WMTS,
			URL:       "https://wxs.ign.fr/{key}/geoportail/wmts?SERVICE=WMTS&REQUEST=GetTile&VERSION=1.0.0&LAYER={layer}&STYLE={style}&TILEMATRIXSET={matrixset}&TILEMATRIX={z}&TILEROW={y}&TILECOL={x}&FORMAT={format}",
			LayerID:   "ORTHOIMAGERY.ORTHOPHOTOS",
			MatrixSet: "PM",
			Style:     "normal",
			Format:    "image/jpeg",
			CRS:       "EPSG:3857",
			Zoom:      19,
			MaxZoom:   21,
			TileSize:  256,
			AccessKey: "ortho",
		},
		Layer{
			Name:     "ign-ortho-wms",
			Protocol: WMS,
			URL:      "https://data.geopf.fr/wms-r",
			LayerID:  "ORTHOIMAGERY.ORTHOPHOTOS",
			Format:   "image/jpeg",
			CRS:      "EPSG:3857",
		},
		Layer{
			Name:     "osm",
			Protocol: WMTS,
			URL:      "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			LayerID:  "osm",
			Format:   "image/png",
			CRS:      "EPSG:3857",
			Zoom:     17,
			MaxZoom:  19,
			TileSize: 256,
		},
	)
	if err != nil {
		panic(err)
	}
	return catalog
}
