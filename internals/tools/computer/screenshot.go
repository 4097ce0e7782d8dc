package computer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/jadenj13/deskdroid/internals/tools"
)

func (t *Tool) screenshot(ctx context.Context) tools.Result {
	raw, err := t.capture(ctx)
	if err != nil {
		return tools.Errorf("screenshot: %s", err)
	}
	img, err := t.scale(raw)
	if err != nil {
		return tools.Errorf("screenshot: %s", err)
	}
	return tools.Result{Image: img, ImageMediaType: "image/png"}
}

// capture grabs the full screen as PNG, preferring ImageMagick's import
// which can write to stdout and falling back to scrot.
func (t *Tool) capture(ctx context.Context) ([]byte, error) {
	out, err := t.runner.Run(ctx, "import", "-window", "root", "png:-")
	if err == nil && len(out) > 0 {
		return out, nil
	}

	path := filepath.Join(os.TempDir(), "screenshot_"+uuid.NewString()+".png")
	defer os.Remove(path)
	if _, serr := t.runner.Run(ctx, "scrot", "-o", "-p", path); serr != nil {
		return nil, fmt.Errorf("import: %v; scrot: %w", err, serr)
	}
	return os.ReadFile(path)
}

// scale resizes a screenshot to the declared display size and records the
// ratio used to map model coordinates back onto the screen.
func (t *Tool) scale(raw []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	t.mu.Lock()
	t.scaleX = float64(w) / float64(t.opts.Width)
	t.scaleY = float64(h) / float64(t.opts.Height)
	t.mu.Unlock()

	if w == t.opts.Width && h == t.opts.Height {
		return raw, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, t.opts.Width, t.opts.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
