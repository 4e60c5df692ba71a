package slopesort

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
	"k8s.io/klog/v2"
)

// startQuality is the initial JPEG re-encode quality.
const startQuality = 85

// Payload is an image prepared for the vision backend.
type Payload struct {
	MIME   string
	Data   []byte
	Base64 string
}

// ContentHash digests the original file bytes. This is the cache key:
// it identifies the photograph, not the downscaled payload sent to the
// backend.
func ContentHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LoadPayload decodes the image at path, corrects its orientation,
// downscales it so no dimension exceeds maxDim, and re-encodes it as
// JPEG under maxMB, walking the quality ladder downward and shrinking
// dimensions as a last resort.
func LoadPayload(path string, maxDim int, maxMB float64) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	img, err := decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	img = orient(img, data)

	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w > maxDim || h > maxDim {
		nw, nh := fit(w, h, maxDim)
		klog.V(1).Infof("downscaling %s: %dx%d -> %dx%d", path, w, h, nw, nh)
		img = transform.Resize(img, nw, nh, transform.Lanczos)
	}

	maxBytes := int(maxMB * 1024 * 1024)
	encoded, err := encodeUnder(img, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}

	return &Payload{
		MIME:   "image/jpeg",
		Data:   encoded,
		Base64: base64.StdEncoding.EncodeToString(encoded),
	}, nil
}

func decode(path string, data []byte) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".heic" || ext == ".heif" {
		return goheif.Decode(bytes.NewReader(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// orient applies the EXIF orientation tag. Angles are clockwise.
func orient(img image.Image, data []byte) image.Image {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return img
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return img
	}
	o, err := tag.Int(0)
	if err != nil {
		return img
	}

	opts := &transform.RotationOptions{ResizeBounds: true}
	switch o {
	case 2:
		return transform.FlipH(img)
	case 3:
		return transform.Rotate(img, 180, opts)
	case 4:
		return transform.FlipV(img)
	case 5:
		return transform.Rotate(transform.FlipH(img), 270, opts)
	case 6:
		return transform.Rotate(img, 90, opts)
	case 7:
		return transform.Rotate(transform.FlipH(img), 90, opts)
	case 8:
		return transform.Rotate(img, 270, opts)
	}
	return img
}

// fit scales (w, h) down so the larger dimension equals maxDim.
func fit(w, h, maxDim int) (int, int) {
	if w >= h {
		return maxDim, h * maxDim / w
	}
	return w * maxDim / h, maxDim
}

// encodeUnder re-encodes img as JPEG under maxBytes, first by lowering
// quality, then by shrinking dimensions.
func encodeUnder(img image.Image, maxBytes int) ([]byte, error) {
	for q := startQuality; q >= 25; q -= 10 {
		data, err := encodeJPEG(img, q)
		if err != nil {
			return nil, err
		}
		if len(data) <= maxBytes {
			return data, nil
		}
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for _, target := range []int{2000, 1600, 1200, 1000, 800, 600, 400, 200} {
		if target >= w && target >= h {
			continue
		}
		nw, nh := fit(w, h, target)
		small := transform.Resize(img, nw, nh, transform.Lanczos)
		for q := 70; q >= 20; q -= 10 {
			data, err := encodeJPEG(small, q)
			if err != nil {
				return nil, err
			}
			if len(data) <= maxBytes {
				return data, nil
			}
		}
	}

	return nil, fmt.Errorf("cannot fit %dx%d image under %d bytes", w, h, maxBytes)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(quality)(&buf, img); err != nil {
		return nil, fmt.Errorf("jpeg encode at q%d: %w", quality, err)
	}
	return buf.Bytes(), nil
}
