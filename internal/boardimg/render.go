// Package boardimg draws a FEN position as a PNG for observers.
package boardimg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultSquareSize = 64
	minSquareSize     = 16
	maxSquareSize     = 160
	margin            = 18
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	frameColor      = color.RGBA{28, 31, 46, 255}
	highlightFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	coordinateColor = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
)

// Highlight marks the last move, squares in algebraic form ("e2").
type Highlight struct {
	From string
	To   string
}

type Options struct {
	SquareSize int
	// Flip draws the board from black's side.
	Flip      bool
	Highlight *Highlight
}

// Render returns the PNG of fen.
func Render(ctx context.Context, fen string, opts Options) ([]byte, error) {
	board, err := boardFromFEN(fen)
	if err != nil {
		return nil, err
	}
	size := opts.SquareSize
	if size == 0 {
		size = DefaultSquareSize
	}
	if size < minSquareSize || size > maxSquareSize {
		return nil, fmt.Errorf("square size %d out of range [%d,%d]", size, minSquareSize, maxSquareSize)
	}

	total := size*8 + margin*2
	img := image.NewRGBA(image.Rect(0, 0, total, total))
	draw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, draw.Src)
	origin := image.Pt(margin, margin)

	for file := 0; file < 8; file++ {
		for rank := 0; rank < 8; rank++ {
			sq := nchess.NewSquare(nchess.File(file), nchess.Rank(rank))
			draw.Draw(img, squareRect(sq, size, origin, opts.Flip), image.NewUniform(squareColor(sq)), image.Point{}, draw.Src)
		}
	}
	if h := opts.Highlight; h != nil {
		for _, name := range []string{h.From, h.To} {
			if sq, ok := parseSquare(name); ok {
				draw.Draw(img, squareRect(sq, size, origin, opts.Flip), image.NewUniform(highlightFill), image.Point{}, draw.Over)
			}
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		if err := drawPiece(img, piece, squareRect(sq, size, origin, opts.Flip)); err != nil {
			return nil, err
		}
	}
	drawCoordinates(img, size, origin, opts.Flip)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func boardFromFEN(fen string) (*nchess.Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame().Position().Board(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid FEN: %w", err)
	}
	return nchess.NewGame(opt).Position().Board(), nil
}

func parseSquare(s string) (nchess.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func squareRect(sq nchess.Square, size int, origin image.Point, flip bool) image.Rectangle {
	col, row := int(sq.File()), 7-int(sq.Rank())
	if flip {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*size
	y := origin.Y + row*size
	return image.Rect(x, y, x+size, y+size)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func drawCoordinates(dst draw.Image, size int, origin image.Point, flip bool) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(coordinateColor), Face: face}
	for i := 0; i < 8; i++ {
		file, rank := i, 7-i
		if flip {
			file, rank = 7-i, i
		}
		fileLabel := string(rune('a' + file))
		rankLabel := string(rune('1' + rank))

		cx := origin.X + i*size + size/2
		d.Dot = fixed.P(cx-face.Width/2, origin.Y+8*size+face.Ascent+2)
		d.DrawString(fileLabel)

		cy := origin.Y + i*size + size/2
		d.Dot = fixed.P(origin.X-margin/2-face.Width/2, cy+face.Ascent/2)
		d.DrawString(rankLabel)
	}
}
