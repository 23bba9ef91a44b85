package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/franckalain/freshness/internal/logger"
)

// DefaultMaxBytes matches the upload limit enforced by the prediction service
const DefaultMaxBytes = 16 << 20

var (
	ErrNoFile   = errors.New("no file provided")
	ErrEmpty    = errors.New("file is empty")
	ErrNotImage = errors.New("file is not an image")
	ErrTooLarge = errors.New("image exceeds the upload limit")
)

// Source identifies the input channel an image came from
type Source int

const (
	DragDrop Source = iota
	FilePicker
	Camera
)

func (s Source) String() string {
	switch s {
	case DragDrop:
		return "drop"
	case FilePicker:
		return "picker"
	case Camera:
		return "camera"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource maps the shell's source names to a Source
func ParseSource(s string) (Source, error) {
	switch s {
	case "drop":
		return DragDrop, nil
	case "picker", "":
		return FilePicker, nil
	case "camera":
		return Camera, nil
	}
	return 0, fmt.Errorf("unknown image source: %q", s)
}

// File is a raw file handle as delivered by any input channel
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Image is an acquired image owned by the selection
type Image struct {
	ID         string
	Name       string
	MediaType  string
	Data       []byte
	Source     Source
	AcquiredAt time.Time
}

// IsZero reports whether no image is held
func (i Image) IsZero() bool {
	return i.ID == ""
}

// Sink receives acquisition results. PreviewReady always follows ImageAcquired for the same id.
type Sink interface {
	ImageAcquired(img Image)
	PreviewReady(id, preview string)
}

// Acquirer funnels drag-drop, file-picker and camera input into a single ingestion path
type Acquirer struct {
	sink     Sink
	maxBytes int64
	dragging *atomic.Bool
	log      logger.Logger
	previews sync.WaitGroup
}

// NewAcquirer creates an Acquirer delivering to sink. maxBytes <= 0 uses DefaultMaxBytes.
func NewAcquirer(sink Sink, maxBytes int64, log logger.Logger) *Acquirer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Acquirer{
		sink:     sink,
		maxBytes: maxBytes,
		dragging: atomic.NewBool(false),
		log:      log,
	}
}

// Drop handles a drag-and-drop drop event
func (a *Acquirer) Drop(ctx context.Context, files []File) (Image, error) {
	a.dragging.Store(false)
	return a.Ingest(ctx, DragDrop, files)
}

// Pick handles a file-picker change event
func (a *Acquirer) Pick(ctx context.Context, files []File) (Image, error) {
	return a.Ingest(ctx, FilePicker, files)
}

// Capture handles a camera-capture change event
func (a *Acquirer) Capture(ctx context.Context, files []File) (Image, error) {
	return a.Ingest(ctx, Camera, files)
}

// Ingest validates the first file, hands it to the sink and derives its preview in the background.
// On error nothing is delivered to the sink.
func (a *Acquirer) Ingest(ctx context.Context, source Source, files []File) (Image, error) {
	if len(files) == 0 {
		return Image{}, ErrNoFile
	}
	f := files[0]
	if len(f.Data) == 0 {
		return Image{}, ErrEmpty
	}
	if int64(len(f.Data)) > a.maxBytes {
		return Image{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(f.Data), a.maxBytes)
	}

	mediaType := resolveType(f)
	if !strings.HasPrefix(mediaType, "image/") {
		return Image{}, fmt.Errorf("%w: %s", ErrNotImage, mediaType)
	}

	img := Image{
		ID:         uuid.NewString(),
		Name:       f.Name,
		MediaType:  mediaType,
		Data:       f.Data,
		Source:     source,
		AcquiredAt: time.Now(),
	}
	a.log.Debugf(ctx, "acquired %s image %s (%s, %d bytes)", source, img.ID, mediaType, len(img.Data))
	a.sink.ImageAcquired(img)

	a.previews.Add(1)
	go func() {
		defer a.previews.Done()
		a.sink.PreviewReady(img.ID, Preview(img))
	}()

	return img, nil
}

// DragEnter marks a drag as active
func (a *Acquirer) DragEnter() { a.dragging.Store(true) }

// DragOver keeps the drag active
func (a *Acquirer) DragOver() { a.dragging.Store(true) }

// DragLeave clears the drag state
func (a *Acquirer) DragLeave() { a.dragging.Store(false) }

// Dragging reports whether a drag is in progress over the drop zone
func (a *Acquirer) Dragging() bool {
	return a.dragging.Load()
}

// Wait blocks until all pending previews have been delivered
func (a *Acquirer) Wait() {
	a.previews.Wait()
}

// Preview renders img as a data URI
func Preview(img Image) string {
	return "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Open reads a file from disk as a picker input
func Open(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read image: %w", err)
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

// Extension returns the conventional file extension for a media type, including the dot
func Extension(mediaType string) string {
	if m := mimetype.Lookup(mediaType); m != nil {
		return m.Extension()
	}
	return ""
}

func resolveType(f File) string {
	declared := strings.TrimSpace(f.MediaType)
	if declared == "" || declared == "application/octet-stream" {
		return mimetype.Detect(f.Data).String()
	}
	return declared
}
