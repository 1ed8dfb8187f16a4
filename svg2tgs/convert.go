package svg2tgs

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/lmittmann/tint"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	lottieVersion = "5.7.4"

	// Frame rate and duration for the generated animation. The
	// subprocess renders at 60fps; the static fallback uses 30fps over
	// 60 frames (a 2-second still).
	lottieSubprocessFPS  = 60
	lottieFallbackFPS    = 30
	lottieFallbackFrames = 60
)

var ErrNoConverters = errors.New("no conversion strategy available")

// ConversionStrategy converts a validated SVG document into gzipped
// Lottie JSON (TGS). Implementations must respect ctx cancellation.
type ConversionStrategy interface {
	Name() string
	Convert(ctx context.Context, svg []byte) ([]byte, error)
}

// ConverterChain tries each strategy in order, returning the first
// successful result. A strategy failing is logged and the next one is
// tried; the chain fails only when every strategy does.
type ConverterChain struct {
	strategies []ConversionStrategy
	logger     *slog.Logger

	// sizeWarn is the output size above which a warning is logged.
	// Telegram rejects stickers over 64KiB, but delivery is still
	// attempted so the user sees Telegram's own error.
	sizeWarn int64
}

func NewConverterChain(
	logger *slog.Logger,
	sizeWarn int64,
	strategies ...ConversionStrategy,
) *ConverterChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConverterChain{
		strategies: strategies,
		logger:     logger.With(loggerNameKey, "converter"),
		sizeWarn:   sizeWarn,
	}
}

func (c *ConverterChain) Convert(ctx context.Context, svg []byte) ([]byte, error) {
	if len(c.strategies) == 0 {
		return nil, ErrNoConverters
	}

	log, ok := ContextLogger(ctx)
	if !ok || log == nil {
		log = c.logger
	}

	var errs []error
	for _, strategy := range c.strategies {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		tgs, err := strategy.Convert(ctx, svg)
		if err != nil {
			log.WarnContext(
				ctx,
				"conversion strategy failed",
				"strategy", strategy.Name(),
				tint.Err(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
			continue
		}
		if c.sizeWarn > 0 && int64(len(tgs)) > c.sizeWarn {
			log.WarnContext(
				ctx,
				"sticker exceeds size limit",
				"strategy", strategy.Name(),
				"size", len(tgs),
				"limit", c.sizeWarn,
			)
		}
		return tgs, nil
	}
	return nil, errors.Join(errs...)
}

// lottieConverter shells out to lottie_convert.py (python-lottie),
// which renders the SVG's actual vector content into TGS.
type lottieConverter struct {
	path   string
	width  int
	height int
}

func (l lottieConverter) Name() string {
	return "lottie_convert"
}

func (l lottieConverter) Convert(ctx context.Context, svg []byte) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "svg2tgs-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	inPath := filepath.Join(tmpDir, "input.svg")
	outPath := filepath.Join(tmpDir, "output.tgs")
	if err = os.WriteFile(inPath, svg, 0600); err != nil {
		return nil, fmt.Errorf("writing temp SVG: %w", err)
	}

	cmd := exec.CommandContext(
		ctx,
		l.path,
		inPath,
		outPath,
		"--sanitize",
		"--optimize", "2",
		"--fps", strconv.Itoa(lottieSubprocessFPS),
		"--width", strconv.Itoa(l.width),
		"--height", strconv.Itoa(l.height),
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("conversion timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf(
			"lottie_convert failed: %w (output: %s)",
			err,
			truncate(string(output), 512),
		)
	}

	tgs, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("reading converted sticker: %w", err)
	}
	if len(tgs) == 0 {
		return nil, errors.New("lottie_convert produced an empty file")
	}
	return tgs, nil
}

// findLottieConvert locates lottie_convert.py, preferring the
// configured path, then PATH, then the usual install locations.
func findLottieConvert(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured lottie path: %w", err)
		}
		return configured, nil
	}
	if path, err := exec.LookPath("lottie_convert.py"); err == nil {
		return path, nil
	}
	home, _ := os.UserHomeDir()
	for _, candidate := range []string{
		"/usr/local/bin/lottie_convert.py",
		"/usr/bin/lottie_convert.py",
		filepath.Join(home, ".local", "bin", "lottie_convert.py"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.New("lottie_convert.py not found")
}

// rasterConverter rasterizes the SVG in-process and embeds the result
// as a PNG image asset in a minimal Lottie document. The output is a
// valid (static) TGS, used when python-lottie isn't installed or fails.
type rasterConverter struct {
	width  int
	height int
}

func (r rasterConverter) Name() string {
	return "raster_fallback"
}

func (r rasterConverter) Convert(ctx context.Context, svg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parsing SVG: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(r.width, r.height, img, img.Bounds())
	dasher := rasterx.NewDasher(r.width, r.height, scanner)
	icon.SetTarget(0, 0, float64(r.width), float64(r.height))
	icon.Draw(dasher, 1.0)

	var pngBuf bytes.Buffer
	if err = png.Encode(&pngBuf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	doc := newImageLottie(r.width, r.height, pngBuf.Bytes())
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding animation: %w", err)
	}

	var tgsBuf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&tgsBuf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err = gz.Write(payload); err != nil {
		return nil, err
	}
	if err = gz.Close(); err != nil {
		return nil, err
	}
	return tgsBuf.Bytes(), nil
}

// lottieDocument is the subset of the Lottie schema needed for a
// single embedded-image animation.
type lottieDocument struct {
	Version   string        `json:"v"`
	FrameRate int           `json:"fr"`
	InPoint   int           `json:"ip"`
	OutPoint  int           `json:"op"`
	Width     int           `json:"w"`
	Height    int           `json:"h"`
	Name      string        `json:"nm"`
	DDD       int           `json:"ddd"`
	Assets    []lottieAsset `json:"assets"`
	Layers    []lottieLayer `json:"layers"`
}

type lottieAsset struct {
	ID       string `json:"id"`
	Width    int    `json:"w"`
	Height   int    `json:"h"`
	Path     string `json:"u"`
	Payload  string `json:"p"`
	Embedded int    `json:"e"`
}

type lottieLayer struct {
	DDD       int             `json:"ddd"`
	Index     int             `json:"ind"`
	Type      int             `json:"ty"`
	Name      string          `json:"nm"`
	RefID     string          `json:"refId"`
	Stretch   int             `json:"sr"`
	Transform lottieTransform `json:"ks"`
	InPoint   int             `json:"ip"`
	OutPoint  int             `json:"op"`
	StartTime int             `json:"st"`
}

type lottieTransform struct {
	Opacity  lottieValue `json:"o"`
	Rotation lottieValue `json:"r"`
	Position lottieValue `json:"p"`
	Anchor   lottieValue `json:"a"`
	Scale    lottieValue `json:"s"`
}

type lottieValue struct {
	Animated int `json:"a"`
	Value    any `json:"k"`
}

func newImageLottie(width int, height int, pngData []byte) lottieDocument {
	dataURI := "data:image/png;base64," +
		base64.StdEncoding.EncodeToString(pngData)

	cx := float64(width) / 2
	cy := float64(height) / 2

	return lottieDocument{
		Version:   lottieVersion,
		FrameRate: lottieFallbackFPS,
		InPoint:   0,
		OutPoint:  lottieFallbackFrames,
		Width:     width,
		Height:    height,
		Name:      "sticker",
		Assets: []lottieAsset{
			{
				ID:       "image_0",
				Width:    width,
				Height:   height,
				Payload:  dataURI,
				Embedded: 1,
			},
		},
		Layers: []lottieLayer{
			{
				Index:   1,
				Type:    2,
				Name:    "image",
				RefID:   "image_0",
				Stretch: 1,
				Transform: lottieTransform{
					Opacity:  lottieValue{Value: 100},
					Rotation: lottieValue{Value: 0},
					Position: lottieValue{Value: []float64{cx, cy, 0}},
					Anchor:   lottieValue{Value: []float64{cx, cy, 0}},
					Scale:    lottieValue{Value: []float64{100, 100, 100}},
				},
				InPoint:  0,
				OutPoint: lottieFallbackFrames,
			},
		},
	}
}

// newConverterChain builds the strategy chain from configuration.
// Missing python-lottie isn't fatal: the raster fallback always works.
func newConverterChain(
	logger *slog.Logger,
	cfg *ConverterConfig,
	batch *BatchConfig,
) *ConverterChain {
	var strategies []ConversionStrategy

	lottiePath, err := findLottieConvert(cfg.LottiePath)
	if err != nil {
		if logger != nil {
			logger.Warn(
				"python-lottie not available, using raster fallback only",
				tint.Err(err),
			)
		}
	} else {
		strategies = append(
			strategies,
			lottieConverter{
				path:   lottiePath,
				width:  batch.RequiredWidth,
				height: batch.RequiredHeight,
			},
		)
	}

	strategies = append(
		strategies,
		rasterConverter{
			width:  batch.RequiredWidth,
			height: batch.RequiredHeight,
		},
	)
	return NewConverterChain(logger, cfg.StickerSizeWarn, strategies...)
}
