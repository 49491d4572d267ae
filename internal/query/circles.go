package query

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hpmartins/bsky-codes/internal/aggregator"
	"github.com/hpmartins/bsky-codes/internal/identity"
	"github.com/hpmartins/bsky-codes/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	canvasSize   = 600
	avatarSize   = 48
	innerOrbitR  = 150
	outerOrbitR  = 260
	maxOrbitDIDs = 50
)

var avatarClient = &http.Client{Timeout: 3 * time.Second}

var bgColor = color.RGBA{R: 0x11, G: 0x13, B: 0x1a, A: 0xff}

// renderCircles assembles the fixed two-orbit layout (sent interactions
// on one orbit, received on the other, per source) from the main
// actor's avatar and up to top-50 counterparty avatars, fetched
// concurrently with a short per-request timeout, per the external
// renderer contract in §6. A placeholder tile stands in for any
// avatar that fails to fetch.
func (s *Server) renderCircles(ctx context.Context, main identity.Resolved, result aggregator.Result, source string) (io.Reader, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, canvasSize, canvasSize))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: bgColor}, image.Point{}, draw.Src)

	center := canvasSize / 2
	mainImg := s.fetchAvatarFor(ctx, main.DID)
	drawTile(canvas, mainImg, center, center, avatarSize*2)

	if source == "from" || source == "both" {
		s.drawOrbit(ctx, canvas, result.Sent, center, innerOrbitR)
	}
	if source == "to" || source == "both" {
		s.drawOrbit(ctx, canvas, result.Rcvd, center, outerOrbitR)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return &buf, nil
}

func (s *Server) drawOrbit(ctx context.Context, canvas *image.RGBA, counterparties []aggregator.Counterparty, center, radius int) {
	n := len(counterparties)
	if n > maxOrbitDIDs {
		n = maxOrbitDIDs
	}
	if n == 0 {
		return
	}

	imgs := make([]image.Image, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			imgs[i] = s.fetchAvatarFor(gctx, counterparties[i].ID)
			return nil
		})
	}
	g.Wait()

	step := 2 * math.Pi / float64(n)
	for i := 0; i < n; i++ {
		angle := step * float64(i)
		x := center + int(float64(radius)*math.Cos(angle))
		y := center + int(float64(radius)*math.Sin(angle))
		drawTile(canvas, imgs[i], x, y, avatarSize)
	}
}

// fetchAvatarFor resolves did's profile and fetches its avatar,
// returning a placeholder tile on any failure. The avatar URL is read
// from the stored profile document; the indexer's profile upsert leaves
// out the record's avatar field, so profiles written by this module
// carry no avatar URL and are drawn as the placeholder tile.
func (s *Server) fetchAvatarFor(ctx context.Context, did string) image.Image {
	profiles, err := s.store.Profiles(ctx, []string{did})
	if err != nil || len(profiles) == 0 || profiles[0].Avatar == "" {
		return placeholderTile()
	}
	return fetchAvatar(ctx, profiles[0].Avatar)
}

func fetchAvatar(ctx context.Context, url string) image.Image {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return placeholderTile()
	}
	resp, err := avatarClient.Do(req)
	if err != nil {
		return placeholderTile()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return placeholderTile()
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return placeholderTile()
	}
	return img
}

func placeholderTile() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, avatarSize, avatarSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff}}, image.Point{}, draw.Src)
	return img
}

// drawTile scales src to a size×size square (nearest-neighbor) and
// draws it centered at (cx, cy) on dst.
func drawTile(dst *image.RGBA, src image.Image, cx, cy, size int) {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return
	}

	dstRect := image.Rect(cx-size/2, cy-size/2, cx+size/2, cy+size/2)
	for y := 0; y < size; y++ {
		sy := b.Min.Y + y*sh/size
		for x := 0; x < size; x++ {
			sx := b.Min.X + x*sw/size
			dst.Set(dstRect.Min.X+x, dstRect.Min.Y+y, src.At(sx, sy))
		}
	}
}
