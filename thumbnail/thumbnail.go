// Package thumbnail renders a low-fidelity raster preview of a scene. It is
// strictly best-effort: a rendering failure must never abort the snapshot
// write it accompanies.
package thumbnail

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"boardsync/scene"
)

type (
	// Renderer produces a data-URL preview of a scene.
	Renderer interface {
		Render(s scene.Scene) (string, error)
	}

	// PNG draws element bounding boxes over the scene background color.
	PNG struct {
		Width  int
		Height int
	}

	elementBox struct {
		X           float64 `json:"x"`
		Y           float64 `json:"y"`
		Width       float64 `json:"width"`
		Height      float64 `json:"height"`
		StrokeColor string  `json:"strokeColor"`
		IsDeleted   bool    `json:"isDeleted"`
	}
)

func NewPNG() *PNG {
	return &PNG{Width: 160, Height: 120}
}

func (p *PNG) Render(s scene.Scene) (string, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return "", fmt.Errorf("invalid thumbnail dimensions %dx%d", p.Width, p.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(parseColor(scene.BackgroundColor(s.ViewState), color.White)), image.Point{}, draw.Src)

	boxes := make([]elementBox, 0, len(s.Elements))
	minX, minY := 0.0, 0.0
	maxX, maxY := 0.0, 0.0
	for _, el := range s.Elements {
		var box elementBox
		if err := json.Unmarshal(el, &box); err != nil || box.IsDeleted {
			continue
		}
		if len(boxes) == 0 {
			minX, minY = box.X, box.Y
			maxX, maxY = box.X+box.Width, box.Y+box.Height
		} else {
			minX = min(minX, box.X)
			minY = min(minY, box.Y)
			maxX = max(maxX, box.X+box.Width)
			maxY = max(maxY, box.Y+box.Height)
		}
		boxes = append(boxes, box)
	}

	if len(boxes) > 0 {
		spanX := maxX - minX
		spanY := maxY - minY
		if spanX <= 0 {
			spanX = 1
		}
		if spanY <= 0 {
			spanY = 1
		}
		scaleX := float64(p.Width-8) / spanX
		scaleY := float64(p.Height-8) / spanY
		scale := min(scaleX, scaleY)

		for _, box := range boxes {
			x0 := 4 + int((box.X-minX)*scale)
			y0 := 4 + int((box.Y-minY)*scale)
			x1 := 4 + int((box.X+box.Width-minX)*scale)
			y1 := 4 + int((box.Y+box.Height-minY)*scale)
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}
			fill := parseColor(box.StrokeColor, color.RGBA{R: 0x1e, G: 0x1e, B: 0x1e, A: 0xff})
			draw.Draw(img, image.Rect(x0, y0, x1, y1).Intersect(img.Bounds()), image.NewUniform(fill), image.Point{}, draw.Src)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// parseColor understands #rgb and #rrggbb; anything else falls back.
func parseColor(s string, fallback color.Color) color.Color {
	if len(s) == 0 || s[0] != '#' {
		return fallback
	}
	hex := s[1:]
	var r, g, b uint8
	switch len(hex) {
	case 3:
		if _, err := fmt.Sscanf(hex, "%1x%1x%1x", &r, &g, &b); err != nil {
			return fallback
		}
		r, g, b = r*17, g*17, b*17
	case 6:
		if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
			return fallback
		}
	default:
		return fallback
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
