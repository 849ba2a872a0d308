package boardimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	whiteFill = color.NRGBA{R: 248, G: 244, B: 234, A: 255}
	blackFill = color.NRGBA{R: 43, G: 43, B: 43, A: 255}
)

type tokenKey struct {
	white bool
	size  int
}

var (
	tokenCache   = map[tokenKey]image.Image{}
	tokenCacheMu sync.RWMutex
)

func hex(c color.NRGBA) string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// tokenSVG is a round piece token; the letter goes on top separately.
func tokenSVG(white bool) []byte {
	fill, stroke := whiteFill, blackFill
	if !white {
		fill, stroke = blackFill, whiteFill
	}
	return []byte(fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100"><circle cx="50" cy="50" r="38" fill="%s" stroke="%s" stroke-width="6"/></svg>`,
		hex(fill), hex(stroke)))
}

func renderToken(white bool, size int) (image.Image, error) {
	key := tokenKey{white: white, size: size}
	tokenCacheMu.RLock()
	if img, ok := tokenCache[key]; ok {
		tokenCacheMu.RUnlock()
		return img, nil
	}
	tokenCacheMu.RUnlock()

	icon, err := oksvg.ReadIconStream(bytes.NewReader(tokenSVG(white)))
	if err != nil {
		return nil, fmt.Errorf("parse token svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	tokenCacheMu.Lock()
	tokenCache[key] = img
	tokenCacheMu.Unlock()
	return img, nil
}

func pieceLetter(t nchess.PieceType) string {
	switch t {
	case nchess.King:
		return "K"
	case nchess.Queen:
		return "Q"
	case nchess.Rook:
		return "R"
	case nchess.Bishop:
		return "B"
	case nchess.Knight:
		return "N"
	case nchess.Pawn:
		return "P"
	}
	return ""
}

// letterMask draws a 7x13 bitmap glyph and scales it up to h pixels high.
func letterMask(letter string, h int) *image.Alpha {
	face := basicfont.Face7x13
	src := image.NewAlpha(image.Rect(0, 0, face.Width, face.Height))
	d := font.Drawer{Dst: src, Src: image.Opaque, Face: face, Dot: fixed.P(0, face.Ascent)}
	d.DrawString(letter)

	w := h * face.Width / face.Height
	dst := image.NewAlpha(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func drawPiece(dst draw.Image, piece nchess.Piece, rect image.Rectangle) error {
	white := piece.Color() == nchess.White
	token, err := renderToken(white, rect.Dx())
	if err != nil {
		return err
	}
	draw.Draw(dst, rect, token, image.Point{}, draw.Over)

	mask := letterMask(pieceLetter(piece.Type()), rect.Dy()/2)
	mb := mask.Bounds()
	at := image.Pt(rect.Min.X+(rect.Dx()-mb.Dx())/2, rect.Min.Y+(rect.Dy()-mb.Dy())/2)
	ink := blackFill
	if !white {
		ink = whiteFill
	}
	draw.DrawMask(dst, mb.Add(at), image.NewUniform(ink), image.Point{}, mask, image.Point{}, draw.Over)
	return nil
}
