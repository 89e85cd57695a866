package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/ClippyCDN/clippy/internal/files"
)

const (
	MaxSize = 400
	Quality = 80
)

// Result is an encoded thumbnail.
type Result struct {
	Data      []byte
	Size      int64
	Extension string
	Width     int
	Height    int
}

// Codec turns the bytes of an upload into a thumbnail.
type Codec interface {
	Thumbnail(ctx context.Context, name string, src []byte, mimeType string) (*Result, error)
}

// ImageCodec renders still images.
type ImageCodec struct {
	MaxSize int
	Quality int
}

// Thumbnail decodes src, corrects its EXIF orientation, fits it within
// MaxSize x MaxSize and encodes it as JPEG.
func (c ImageCodec) Thumbnail(_ context.Context, name string, src []byte, _ string) (*Result, error) {
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	img = applyOrientation(img, orientation(src))
	return c.encode(img)
}

func (c ImageCodec) encode(img image.Image) (*Result, error) {
	maxSize, quality := c.MaxSize, c.Quality
	if maxSize <= 0 {
		maxSize = MaxSize
	}
	if quality <= 0 {
		quality = Quality
	}

	thumb := imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)
	bounds := thumb.Bounds()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return &Result{
		Data:      buf.Bytes(),
		Size:      int64(buf.Len()),
		Extension: files.ThumbnailExtension,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}

// orientation reads the EXIF orientation tag, 1 when absent.
func orientation(src []byte) int {
	x, err := exif.Decode(bytes.NewReader(src))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// VideoCodec grabs the first frame of a video with ffmpeg and renders it
// like an image.
type VideoCodec struct {
	// FFmpegPath is the ffmpeg binary, looked up in PATH when empty.
	FFmpegPath string
	Image      ImageCodec
}

// Thumbnail extracts one frame. The video is written to a temp file first
// because containers with a trailing index cannot be read from a pipe.
func (c VideoCodec) Thumbnail(ctx context.Context, name string, src []byte, _ string) (*Result, error) {
	bin := c.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	tmp, err := os.CreateTemp("", "clippy-video-*")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(src); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp for %s: %w", name, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-i", tmp.Name(),
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png",
		"pipe:1")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg %s: no frame produced", name)
	}

	frame, err := imaging.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame of %s: %w", name, err)
	}
	return c.Image.encode(frame)
}

// MediaCodec dispatches on the mime type family.
type MediaCodec struct {
	Image Codec
	Video Codec
}

// NewMediaCodec returns a codec for image/* and video/* uploads.
func NewMediaCodec(ffmpegPath string) MediaCodec {
	img := ImageCodec{MaxSize: MaxSize, Quality: Quality}
	return MediaCodec{
		Image: img,
		Video: VideoCodec{FFmpegPath: ffmpegPath, Image: img},
	}
}

// Thumbnail routes to the image or video codec.
func (c MediaCodec) Thumbnail(ctx context.Context, name string, src []byte, mimeType string) (*Result, error) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return c.Image.Thumbnail(ctx, name, src, mimeType)
	case strings.HasPrefix(mimeType, "video/"):
		return c.Video.Thumbnail(ctx, name, src, mimeType)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMimeType, mimeType)
	}
}
