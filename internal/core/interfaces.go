package core

import "context"

// ImageSource fetches the raw image bytes for a status code.
// A non-success upstream status must be reported as *FetchFailure.
type ImageSource interface {
	Fetch(ctx context.Context, status StatusCode) ([]byte, error)
}

// MediaUploader uploads bytes to the chat server's media repository and
// returns the content location handle (an mxc:// URI on Matrix).
type MediaUploader interface {
	UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error)
}

// Resolver turns a status code into a ready-to-send MediaRef.
type Resolver interface {
	Resolve(ctx context.Context, status StatusCode) (*MediaRef, error)
}
