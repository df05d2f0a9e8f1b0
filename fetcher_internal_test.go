package orthophoto

import (
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"
)

func TestTileURL(t *testing.T) {
	for _, tc := range []struct {
		name     string
		layer    Layer
		addr     GridAddress
		expected string
	}{
		{
			name: "wmts_query_template",
			layer: Layer{
				Name:      "ign-ortho",
				Protocol:  WMTS,
				URL:       "https://wxs.ign.fr/{key}/geoportail/wmts?SERVICE=WMTS&REQUEST=GetTile&LAYER={layer}&STYLE={style}&TILEMATRIXSET={matrixset}&TILEMATRIX={z}&TILEROW={y}&TILECOL={x}&FORMAT={format}",
				LayerID:   "ORTHOIMAGERY.ORTHOPHOTOS",
				MatrixSet: "PM",
				Style:     "normal",
				Format:    "image/jpeg",
				AccessKey: "ortho",
			},
			addr:     GridAddress{Zoom: 19, Col: 271305, Row: 178010},
			expected: "https://wxs.ign.fr/ortho/geoportail/wmts?SERVICE=WMTS&REQUEST=GetTile&LAYER=ORTHOIMAGERY.ORTHOPHOTOS&STYLE=normal&TILEMATRIXSET=PM&TILEMATRIX=19&TILEROW=178010&TILECOL=271305&FORMAT=image%2Fjpeg",
		},
		{
			name: "xyz_path_template",
			layer: Layer{
				Name:     "osm",
				Protocol: WMTS,
				URL:      "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			},
			addr:     GridAddress{Zoom: 17, Col: 66349, Row: 45678},
			expected: "https://tile.openstreetmap.org/17/66349/45678.png",
		},
		{
			name: "tms_flips_row",
			layer: Layer{
				Name:     "tms-layer",
				Protocol: TMS,
				URL:      "https://tiles.example.com/{z}/{x}/{y}.png",
			},
			addr:     GridAddress{Zoom: 3, Col: 2, Row: 1},
			expected: "https://tiles.example.com/3/2/6.png",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tileURL(tc.layer, tc.addr))
		})
	}
}

func TestAreaURL(t *testing.T) {
	layer := Layer{
		Name:     "ortho-wms",
		Protocol: WMS,
		URL:      "https://data.geopf.fr/wms-r",
		LayerID:  "ORTHOIMAGERY.ORTHOPHOTOS",
		Format:   "image/jpeg",
	}
	bound := orb.Bound{Min: orb.Point{699900, 6429900}, Max: orb.Point{701100, 6431100}}
	requestURL := areaURL(layer, bound, "EPSG:3857", 6000, 6000)

	assert.True(t, strings.HasPrefix(requestURL, "https://data.geopf.fr/wms-r?"))
	for _, fragment := range []string{
		"SERVICE=WMS",
		"REQUEST=GetMap",
		"VERSION=1.3.0",
		"LAYERS=ORTHOIMAGERY.ORTHOPHOTOS",
		"CRS=EPSG%3A3857",
		"BBOX=699900.000000%2C6429900.000000%2C701100.000000%2C6431100.000000",
		"WIDTH=6000",
		"HEIGHT=6000",
		"FORMAT=image%2Fjpeg",
	} {
		assert.True(t, strings.Contains(requestURL, fragment))
	}
}

func TestFormatExt(t *testing.T) {
	assert.Equal(t, "jpg", formatExt("image/jpeg"))
	assert.Equal(t, "jpg", formatExt(""))
	assert.Equal(t, "png", formatExt("image/png"))
	assert.Equal(t, "webp", formatExt("image/webp"))
}
