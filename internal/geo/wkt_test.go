package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainlog/internal/domain"
)

func TestEncodeWKT(t *testing.T) {
	wkt, err := EncodeWKT(domain.Path{{Lat: 48.8566, Lng: 2.3522}})
	require.NoError(t, err)
	assert.Equal(t, "POINT(2.3522 48.8566)", wkt)

	wkt, err = EncodeWKT(domain.Path{{Lat: 48.8566, Lng: 2.3522}, {Lat: 45.764, Lng: 4.8357}})
	require.NoError(t, err)
	assert.Equal(t, "LINESTRING(2.3522 48.8566, 4.8357 45.764)", wkt)

	_, err = EncodeWKT(nil)
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestDecodeWKT_ReversesEncode(t *testing.T) {
	path := domain.Path{{Lat: 51.5072, Lng: -0.1276}, {Lat: 50.9513, Lng: 1.8587}, {Lat: 48.8566, Lng: 2.3522}}
	wkt, err := EncodeWKT(path)
	require.NoError(t, err)

	got, err := DecodeWKT(wkt)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestDecodeWKT_PostGISSpacing(t *testing.T) {
	got, err := DecodeWKT("LINESTRING(2.35 48.85,4.83 45.76)")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = DecodeWKT("POLYGON((0 0,1 1,1 0,0 0))")
	assert.Error(t, err)
	_, err = DecodeWKT("POINT(1)")
	assert.Error(t, err)
}

func TestLength_ParisLyon(t *testing.T) {
	paris := domain.Point{Lat: 48.8566, Lng: 2.3522}
	lyon := domain.Point{Lat: 45.764, Lng: 4.8357}

	km := Length(domain.Path{paris, lyon}) / 1000
	assert.InDelta(t, 392, km, 3)
	assert.Zero(t, Length(domain.Path{paris}))
}
