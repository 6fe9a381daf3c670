// Package core provides core types and interfaces for the http.cat bot.
package core

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MessageTypeImage is the msgtype of an image message on the chat server.
const MessageTypeImage = "m.image"

// StatusCode is an HTTP status code used both as the cache key and as the
// image selector. It is not validated against the 100..599 range.
type StatusCode int

// String returns the decimal form used in URLs, filenames and store keys.
func (s StatusCode) String() string {
	return strconv.Itoa(int(s))
}

// ParseStatusCode parses a stringified status code as stored in the durable tier.
func ParseStatusCode(raw string) (StatusCode, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid status code %q: %w", raw, err)
	}
	return StatusCode(n), nil
}

// ImageInfo describes the uploaded image.
type ImageInfo struct {
	MimeType string `json:"mimetype" yaml:"mimetype" bson:"mimetype"`
	Size     int    `json:"size" yaml:"size" bson:"size"`
	Width    int    `json:"w" yaml:"w" bson:"w"`
	Height   int    `json:"h" yaml:"h" bson:"h"`
}

// MediaRef is a ready-to-send descriptor of an uploaded image.
// Its JSON form is the content of an m.image message, so a stored entry can be
// sent as-is. Treat values as immutable once created.
type MediaRef struct {
	MsgType string    `json:"msgtype" yaml:"msgtype" bson:"msgtype"`
	Body    string    `json:"body" yaml:"body" bson:"body"`
	URL     string    `json:"url" yaml:"url" bson:"url"`
	Info    ImageInfo `json:"info" yaml:"info" bson:"info"`
}

// NewMediaRef builds an image MediaRef.
func NewMediaRef(filename, url string, info ImageInfo) *MediaRef {
	return &MediaRef{
		MsgType: MessageTypeImage,
		Body:    filename,
		URL:     url,
		Info:    info,
	}
}

// Filename returns the display filename.
func (m *MediaRef) Filename() string {
	return m.Body
}

// Serialize encodes the MediaRef for the durable tier.
func (m *MediaRef) Serialize() ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("media ref is nil")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal media ref: %w", err)
	}
	return b, nil
}

// DeserializeMediaRef decodes a MediaRef previously produced by Serialize.
func DeserializeMediaRef(raw []byte) (*MediaRef, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty media ref payload")
	}
	var ref MediaRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("unmarshal media ref: %w", err)
	}
	if ref.URL == "" {
		return nil, fmt.Errorf("media ref has no content url")
	}
	if ref.MsgType == "" {
		ref.MsgType = MessageTypeImage
	}
	return &ref, nil
}

// Clone returns a copy that callers may hold without sharing the cached value.
func (m *MediaRef) Clone() *MediaRef {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
