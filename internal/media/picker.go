// Package media acquires images from the device and uploads them to storage.
package media

import (
	"context"
	"errors"
	"fmt"
)

// Quality is the compression quality requested from the picker.
const Quality = 0.8

// PlaceholderImageURL is returned by PlaceholderPicker.
const PlaceholderImageURL = "https://images.unsplash.com/photo-1579546929518-9e396f3cc809?w=500&h=500&fit=crop"

// ErrCanceled is returned when the user dismisses the picker.
var ErrCanceled = errors.New("image selection canceled")

// Source is where an image comes from.
type Source int

const (
	SourceLibrary Source = iota
	SourceCamera
)

func (s Source) String() string {
	if s == SourceCamera {
		return "camera"
	}
	return "library"
}

// Options are passed to the platform picker.
type Options struct {
	AllowsEditing bool
	// Aspect is the crop aspect ratio as width, height.
	Aspect  [2]int
	Quality float64
}

// Handle refers to an acquired image. URI is local unless the picker returns a remote URL.
type Handle struct {
	URI    string
	Width  int
	Height int
}

// Picker is the platform camera and photo library.
type Picker interface {
	Capture(ctx context.Context, opts Options) (Handle, error)
	Pick(ctx context.Context, opts Options) (Handle, error)
}

// PostOptions are the picker options for post images: square crop.
func PostOptions() Options {
	return Options{AllowsEditing: true, Aspect: [2]int{1, 1}, Quality: Quality}
}

// CaptureOrPick asks picker for an image from src with post options.
func CaptureOrPick(ctx context.Context, picker Picker, src Source) (Handle, error) {
	if picker == nil {
		return Handle{}, fmt.Errorf("no image picker configured")
	}
	var (
		h   Handle
		err error
	)
	switch src {
	case SourceCamera:
		h, err = picker.Capture(ctx, PostOptions())
	default:
		h, err = picker.Pick(ctx, PostOptions())
	}
	if err != nil {
		return Handle{}, err
	}
	if h.URI == "" {
		return Handle{}, ErrCanceled
	}
	return h, nil
}

// PlaceholderPicker returns a fixed remote image for any request. It stands
// in for the device picker in mock mode and on platforms without one.
type PlaceholderPicker struct {
	URL string
}

func (p PlaceholderPicker) Capture(ctx context.Context, opts Options) (Handle, error) {
	return p.handle(ctx)
}

func (p PlaceholderPicker) Pick(ctx context.Context, opts Options) (Handle, error) {
	return p.handle(ctx)
}

func (p PlaceholderPicker) handle(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	url := p.URL
	if url == "" {
		url = PlaceholderImageURL
	}
	return Handle{URI: url, Width: 500, Height: 500}, nil
}
