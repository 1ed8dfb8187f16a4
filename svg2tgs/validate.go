package svg2tgs

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNotSVG       = errors.New("not a valid SVG file")
	ErrNoDimensions = errors.New("SVG has no width/height attributes or viewBox")
)

// DimensionError indicates the SVG parsed correctly, but isn't the
// required size.
type DimensionError struct {
	Width, Height                 int
	RequiredWidth, RequiredHeight int
}

func (e DimensionError) Error() string {
	return fmt.Sprintf(
		"SVG must be %dx%d pixels (got %dx%d)",
		e.RequiredWidth, e.RequiredHeight, e.Width, e.Height,
	)
}

// SVGValidator checks that a document is a well-formed SVG with exact
// pixel dimensions. Dimensions are read from the root element's width
// and height attributes, falling back to the viewBox when either is
// missing.
type SVGValidator struct {
	RequiredWidth  int
	RequiredHeight int
}

func NewSVGValidator(width int, height int) SVGValidator {
	return SVGValidator{RequiredWidth: width, RequiredHeight: height}
}

// Validate returns nil if data is an SVG of exactly the required
// dimensions. The returned error message is suitable for showing to
// the submitting user.
func (v SVGValidator) Validate(data []byte) error {
	width, height, err := svgDimensions(data)
	if err != nil {
		return err
	}
	if width != v.RequiredWidth || height != v.RequiredHeight {
		return DimensionError{
			Width:          width,
			Height:         height,
			RequiredWidth:  v.RequiredWidth,
			RequiredHeight: v.RequiredHeight,
		}
	}
	return nil
}

// svgDimensions parses the root <svg> element and returns its pixel
// dimensions, rounded to the nearest integer.
func svgDimensions(data []byte) (width int, height int, err error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false

	var root *xml.StartElement
	for {
		tok, terr := decoder.Token()
		if terr != nil {
			if errors.Is(terr, io.EOF) {
				return 0, 0, ErrNotSVG
			}
			return 0, 0, ErrNotSVG
		}
		if se, ok := tok.(xml.StartElement); ok {
			if !strings.EqualFold(se.Name.Local, "svg") {
				return 0, 0, ErrNotSVG
			}
			root = &se
			break
		}
	}

	var widthAttr, heightAttr, viewBox string
	for _, attr := range root.Attr {
		switch strings.ToLower(attr.Name.Local) {
		case "width":
			widthAttr = attr.Value
		case "height":
			heightAttr = attr.Value
		case "viewbox":
			viewBox = attr.Value
		}
	}

	w, werr := parseDimension(widthAttr)
	h, herr := parseDimension(heightAttr)
	if werr == nil && herr == nil {
		return w, h, nil
	}

	// Fall back to the viewBox: "min-x min-y width height"
	fields := strings.Fields(strings.ReplaceAll(viewBox, ",", " "))
	if len(fields) == 4 {
		vw, vwerr := parseDimension(fields[2])
		vh, vherr := parseDimension(fields[3])
		if vwerr == nil && vherr == nil {
			if werr != nil {
				w = vw
			}
			if herr != nil {
				h = vh
			}
			return w, h, nil
		}
	}

	return 0, 0, ErrNoDimensions
}

// parseDimension parses an SVG length attribute, tolerating the common
// absolute unit suffixes. Percentages are rejected since they have no
// pixel meaning.
func parseDimension(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, ErrNoDimensions
	}
	if strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("percentage dimension %q", s)
	}
	for _, unit := range []string{"px", "pt", "em"} {
		if strings.HasSuffix(s, unit) {
			s = strings.TrimSpace(strings.TrimSuffix(s, unit))
			break
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}
