package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Photo uploads are JPEG or PNG only.
	_ "image/jpeg"
	_ "image/png"
)

const (
	// MaxPhotoBytes is the upload size ceiling.
	MaxPhotoBytes = 10 << 20
	// MinPhotoDim and MaxPhotoDim bound both width and height.
	MinPhotoDim = 100
	MaxPhotoDim = 4000
)

var (
	// ErrPhotoFormat means the data is not a decodable JPEG or PNG.
	ErrPhotoFormat = errors.New("photo must be a JPEG or PNG image")
	// ErrPhotoTooLarge means the upload exceeds MaxPhotoBytes.
	ErrPhotoTooLarge = errors.New("photo exceeds the 10MB size limit")
	// ErrPhotoBounds means a dimension is outside the allowed range.
	ErrPhotoBounds = errors.New("photo dimensions must be between 100x100 and 4000x4000 pixels")
)

// PhotoMeta describes a validated photo.
type PhotoMeta struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int    `json:"bytes"`
}

// Photo is a staged upload attached to a draft. ID is the storage
// handle under which the bytes were parked.
type Photo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	PhotoMeta
}

// ValidatePhoto checks size, format, and dimensions. Only the image
// header is decoded, not the full pixel data.
func ValidatePhoto(data []byte) (PhotoMeta, error) {
	if len(data) > MaxPhotoBytes {
		return PhotoMeta{}, fmt.Errorf("%w: got %d bytes", ErrPhotoTooLarge, len(data))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return PhotoMeta{}, fmt.Errorf("%w: %v", ErrPhotoFormat, err)
	}
	if format != "jpeg" && format != "png" {
		return PhotoMeta{}, fmt.Errorf("%w: got %s", ErrPhotoFormat, format)
	}
	if cfg.Width < MinPhotoDim || cfg.Height < MinPhotoDim ||
		cfg.Width > MaxPhotoDim || cfg.Height > MaxPhotoDim {
		return PhotoMeta{}, fmt.Errorf("%w: got %dx%d", ErrPhotoBounds, cfg.Width, cfg.Height)
	}

	return PhotoMeta{
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Bytes:  len(data),
	}, nil
}
