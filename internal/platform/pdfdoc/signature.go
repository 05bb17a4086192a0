package pdfdoc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
)

// Signature images are rasterised to at most this many pixels before
// embedding.
const (
	maxSignatureWidth  = 600
	maxSignatureHeight = 250
)

var errEmptySignature = errors.New("empty signature")

// decodeSignature turns a data URL or bare base64 image into an opaque PNG
// on a white background.
func decodeSignature(s string) ([]byte, error) {
	payload := strings.TrimSpace(s)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URL")
		}
		if !strings.Contains(payload[:comma], ";base64") {
			return nil, errors.New("data URL is not base64 encoded")
		}
		payload = payload[comma+1:]
	}
	if payload == "" {
		return nil, errEmptySignature
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return nil, errors.New("image has no pixels")
	}

	dst := image.NewRGBA(fitRect(sb.Dx(), sb.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// fitRect scales w×h down to the signature bounds keeping the aspect ratio.
func fitRect(w, h int) image.Rectangle {
	if w <= maxSignatureWidth && h <= maxSignatureHeight {
		return image.Rect(0, 0, w, h)
	}
	scale := float64(maxSignatureWidth) / float64(w)
	if s := float64(maxSignatureHeight) / float64(h); s < scale {
		scale = s
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return image.Rect(0, 0, nw, nh)
}
