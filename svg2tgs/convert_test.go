package svg2tgs

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStrategy is a ConversionStrategy backed by a function.
type stubStrategy struct {
	name string
	fn   func(ctx context.Context, svg []byte) ([]byte, error)
}

func (s stubStrategy) Name() string {
	return s.name
}

func (s stubStrategy) Convert(ctx context.Context, svg []byte) ([]byte, error) {
	return s.fn(ctx, svg)
}

func TestConverterChainFallbackOrder(t *testing.T) {
	ctx := context.Background()

	var calls []string
	failing := stubStrategy{
		name: "failing",
		fn: func(context.Context, []byte) ([]byte, error) {
			calls = append(calls, "failing")
			return nil, errors.New("nope")
		},
	}
	working := stubStrategy{
		name: "working",
		fn: func(context.Context, []byte) ([]byte, error) {
			calls = append(calls, "working")
			return []byte("tgs"), nil
		},
	}

	chain := NewConverterChain(nil, 0, failing, working)
	tgs, err := chain.Convert(ctx, []byte(testSVG))
	require.NoError(t, err)
	assert.Equal(t, []byte("tgs"), tgs)
	assert.Equal(t, []string{"failing", "working"}, calls)
}

func TestConverterChainFirstStrategyWins(t *testing.T) {
	ctx := context.Background()

	first := stubStrategy{
		name: "first",
		fn: func(context.Context, []byte) ([]byte, error) {
			return []byte("first"), nil
		},
	}
	second := stubStrategy{
		name: "second",
		fn: func(context.Context, []byte) ([]byte, error) {
			t.Fatal("second strategy should not run")
			return nil, nil
		},
	}

	chain := NewConverterChain(nil, 0, first, second)
	tgs, err := chain.Convert(ctx, []byte(testSVG))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), tgs)
}

func TestConverterChainAllFail(t *testing.T) {
	ctx := context.Background()

	errFirst := errors.New("first failed")
	errSecond := errors.New("second failed")
	chain := NewConverterChain(
		nil,
		0,
		stubStrategy{
			name: "a",
			fn: func(context.Context, []byte) ([]byte, error) {
				return nil, errFirst
			},
		},
		stubStrategy{
			name: "b",
			fn: func(context.Context, []byte) ([]byte, error) {
				return nil, errSecond
			},
		},
	)
	_, err := chain.Convert(ctx, []byte(testSVG))
	require.Error(t, err)
	assert.ErrorIs(t, err, errFirst)
	assert.ErrorIs(t, err, errSecond)
}

func TestConverterChainEmpty(t *testing.T) {
	chain := NewConverterChain(nil, 0)
	_, err := chain.Convert(context.Background(), []byte(testSVG))
	require.ErrorIs(t, err, ErrNoConverters)
}

func TestConverterChainCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewConverterChain(
		nil,
		0,
		stubStrategy{
			name: "never",
			fn: func(context.Context, []byte) ([]byte, error) {
				t.Fatal("strategy should not run with a canceled context")
				return nil, nil
			},
		},
	)
	_, err := chain.Convert(ctx, []byte(testSVG))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRasterConverter(t *testing.T) {
	conv := rasterConverter{width: 512, height: 512}
	tgs, err := conv.Convert(context.Background(), []byte(testSVG))
	require.NoError(t, err)
	require.NotEmpty(t, tgs)

	// TGS is gzipped Lottie JSON
	gz, err := gzip.NewReader(strings.NewReader(string(tgs)))
	require.NoError(t, err)
	payload, err := io.ReadAll(gz)
	require.NoError(t, err)

	var doc lottieDocument
	require.NoError(t, json.Unmarshal(payload, &doc))
	assert.Equal(t, lottieVersion, doc.Version)
	assert.Equal(t, 512, doc.Width)
	assert.Equal(t, 512, doc.Height)
	assert.Equal(t, lottieFallbackFPS, doc.FrameRate)
	assert.Equal(t, 0, doc.InPoint)
	assert.Equal(t, lottieFallbackFrames, doc.OutPoint)

	require.Len(t, doc.Assets, 1)
	assert.Equal(t, "image_0", doc.Assets[0].ID)
	assert.Equal(t, 1, doc.Assets[0].Embedded)
	assert.True(
		t,
		strings.HasPrefix(doc.Assets[0].Payload, "data:image/png;base64,"),
	)

	require.Len(t, doc.Layers, 1)
	assert.Equal(t, 2, doc.Layers[0].Type)
	assert.Equal(t, "image_0", doc.Layers[0].RefID)
}

func TestRasterConverterInvalidSVG(t *testing.T) {
	conv := rasterConverter{width: 512, height: 512}
	_, err := conv.Convert(context.Background(), []byte("<not-svg"))
	require.Error(t, err)
}

func TestRasterConverterCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conv := rasterConverter{width: 512, height: 512}
	_, err := conv.Convert(ctx, []byte(testSVG))
	require.ErrorIs(t, err, context.Canceled)
}

func TestFindLottieConvert(t *testing.T) {
	t.Run("configured path exists", func(t *testing.T) {
		tmpdir := t.TempDir()
		scriptPath := filepath.Join(tmpdir, "lottie_convert.py")
		require.NoError(t, os.WriteFile(scriptPath, []byte("#!/usr/bin/env python3\n"), 0755))

		found, err := findLottieConvert(scriptPath)
		require.NoError(t, err)
		assert.Equal(t, scriptPath, found)
	})

	t.Run("configured path missing", func(t *testing.T) {
		_, err := findLottieConvert(
			filepath.Join(t.TempDir(), "does-not-exist.py"),
		)
		require.Error(t, err)
	})
}

func TestNewConverterChainAlwaysHasFallback(t *testing.T) {
	cfg := DefaultTestConfig(t)
	chain := newConverterChain(nil, cfg.Converter, cfg.Batch)
	require.NotNil(t, chain)
	require.NotEmpty(t, chain.strategies)

	// the raster fallback is always the last strategy
	last := chain.strategies[len(chain.strategies)-1]
	assert.Equal(t, "raster_fallback", last.Name())
}

func TestTGSFileName(t *testing.T) {
	assert.Equal(t, "sticker.tgs", tgsFileName("sticker.svg"))
	assert.Equal(t, "my.file.tgs", tgsFileName("my.file.svg"))
	assert.Equal(t, "noext.tgs", tgsFileName("noext"))
	assert.Equal(t, ".hidden.tgs", tgsFileName(".hidden"))
}
