package orthophoto_test

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"

	orthophoto "github.com/geodrape/go-orthophoto"
)

func validTestLayer() orthophoto.Layer {
	return orthophoto.Layer{
		Name:     "valid",
		Protocol: orthophoto.WMTS,
		URL:      "https://example.com/{z}/{x}/{y}.png",
		LayerID:  "valid",
		Format:   "image/png",
		CRS:      "EPSG:3857",
		Zoom:     17,
		MaxZoom:  19,
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := orthophoto.DefaultCatalog()
	for _, name := range []string{"ign-ortho", "ign-ortho-wms", "osm"} {
		layer, err := catalog.Layer(name)
		assert.NoError(t, err)
		assert.NoError(t, layer.Validate())
	}
}

func TestNewCatalog_InvalidLayers(t *testing.T) {
	for name, mutate := range map[string]func(*orthophoto.Layer){
		"missing URL":       func(l *orthophoto.Layer) { l.URL = "" },
		"missing layer ID":  func(l *orthophoto.Layer) { l.LayerID = "" },
		"missing CRS":       func(l *orthophoto.Layer) { l.CRS = "" },
		"unknown protocol":  func(l *orthophoto.Layer) { l.Protocol = "wfs" },
		"zoom out of range": func(l *orthophoto.Layer) { l.Zoom = 25 },
	} {
		t.Run(name, func(t *testing.T) {
			layer := validTestLayer()
			mutate(&layer)
			_, err := orthophoto.NewCatalog(layer)
			assert.Error(t, err)
		})
	}
}

func TestNewCatalog_ZoomAboveMaxZoom(t *testing.T) {
	layer := validTestLayer()
	layer.Zoom = 20
	layer.MaxZoom = 19
	_, err := orthophoto.NewCatalog(layer)
	var zoomErr *orthophoto.InvalidZoomError
	assert.True(t, errors.As(err, &zoomErr))
	assert.Equal(t, 20, zoomErr.Zoom)
}

func TestCatalog_UnknownLayer(t *testing.T) {
	catalog, err := orthophoto.NewCatalog(validTestLayer())
	assert.NoError(t, err)
	_, err = catalog.Layer("nope")
	assert.Error(t, err)
}
