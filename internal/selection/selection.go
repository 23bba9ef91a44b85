package selection

import (
	"errors"

	"github.com/franckalain/freshness/internal/media"
	"github.com/franckalain/freshness/internal/produce"
)

// ErrIncomplete is returned when a request is built without an image or a produce type
var ErrIncomplete = errors.New("both an image and a produce type are required")

// Request is a single analysis submission: exactly one image and one produce type
type Request struct {
	Image   media.Image
	Produce produce.Type
}

// View is a read-only copy of the selection for presentation
type View struct {
	HasImage       bool   `json:"has_image"`
	ImageID        string `json:"image_id,omitempty"`
	ImageName      string `json:"image_name,omitempty"`
	MediaType      string `json:"media_type,omitempty"`
	Source         string `json:"source,omitempty"`
	Preview        string `json:"preview,omitempty"`
	PreviewPending bool   `json:"preview_pending"`
	Produce        string `json:"produce"`
	ProduceLabel   string `json:"produce_label,omitempty"`
}

// State holds the user's image and produce choice. It is not safe for concurrent use.
type State struct {
	image   media.Image
	preview string
	produce produce.Type
}

// New returns an empty selection
func New() *State {
	return &State{}
}

// SetImage replaces the selected image; the previous preview is discarded
func (s *State) SetImage(img media.Image) {
	s.image = img
	s.preview = ""
}

// SetPreview attaches a preview to the current image. Previews for any other image are ignored.
func (s *State) SetPreview(imageID, preview string) bool {
	if s.image.IsZero() || s.image.ID != imageID {
		return false
	}
	s.preview = preview
	return true
}

// SetProduce selects a produce type by value; an empty value clears the selection
func (s *State) SetProduce(value string) error {
	if value == "" {
		s.produce = produce.Type{}
		return nil
	}
	p, err := produce.Parse(value)
	if err != nil {
		return err
	}
	s.produce = p
	return nil
}

func (s *State) Image() media.Image { return s.image }
func (s *State) Preview() string { return s.preview }
func (s *State) Produce() produce.Type { return s.produce }

// Ready reports whether both an image and a produce type are selected
func (s *State) Ready() bool {
	return !s.image.IsZero() && !s.produce.IsZero()
}

// Request builds the submission for the current selection
func (s *State) Request() (Request, error) {
	if !s.Ready() {
		return Request{}, ErrIncomplete
	}
	return Request{Image: s.image, Produce: s.produce}, nil
}

// Reset clears image, preview and produce type
func (s *State) Reset() {
	*s = State{}
}

// View returns a presentation copy of the selection
func (s *State) View() View {
	v := View{
		HasImage:     !s.image.IsZero(),
		Produce:      s.produce.Value,
		ProduceLabel: s.produce.Label,
	}
	if v.HasImage {
		v.ImageID = s.image.ID
		v.ImageName = s.image.Name
		v.MediaType = s.image.MediaType
		v.Source = s.image.Source.String()
		v.Preview = s.preview
		v.PreviewPending = s.preview == ""
	}
	return v
}
