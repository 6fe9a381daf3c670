package catfetch

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"mime"

	_ "golang.org/x/image/webp" // register WebP decoder

	"httpcat/internal/core"
)

var formatMIME = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Canonical extensions. mime.ExtensionsByType returns whatever the host's
// mime tables list first, which is ".jfif" for JPEG on some systems.
var mimeExtension = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Probe decodes only the image header and returns its dimensions, MIME type
// and byte size.
func Probe(data []byte) (core.ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return core.ImageInfo{}, fmt.Errorf("decoding image: %w", err)
	}
	mimeType, ok := formatMIME[format]
	if !ok {
		return core.ImageInfo{}, fmt.Errorf("unsupported image format %q", format)
	}
	return core.ImageInfo{
		MimeType: mimeType,
		Size:     len(data),
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// Extension returns the canonical file extension (with dot) for a MIME type.
func Extension(mimeType string) string {
	if ext, ok := mimeExtension[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// Filename derives the upload filename, e.g. 404 + image/jpeg -> "404.jpg".
func Filename(status core.StatusCode, mimeType string) string {
	return status.String() + Extension(mimeType)
}
