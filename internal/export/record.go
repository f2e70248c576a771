package export

import (
	"path/filepath"
)

// Kind is the collection a capture came from.
type Kind string

const (
	KindMemory       Kind = "memory"
	KindPost         Kind = "post"
	KindRealmoji     Kind = "realmoji"
	KindConversation Kind = "conversation"
)

// Kinds lists every kind in processing order.
var Kinds = []Kind{KindMemory, KindPost, KindRealmoji, KindConversation}

// Location is a GPS fix in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the fix lies on the globe.
func (l *Location) Valid() bool {
	return l != nil &&
		l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180 &&
		!(l.Latitude == 0 && l.Longitude == 0)
}

// Image is one source image of a capture.
type Image struct {
	// Ref is the path as written in the export JSON (or the file name for conversations)
	Ref string

	// Path is the resolved file on disk, empty when no candidate location exists
	Path string

	// Width and Height are the export-provided dimensions, zero when unknown
	Width  int
	Height int
}

// Name returns the base name of the image.
func (i Image) Name() string {
	if i.Path != "" {
		return filepath.Base(i.Path)
	}
	return filepath.Base(i.Ref)
}

// TimeSource says where a conversation capture time came from.
type TimeSource string

const (
	TimeFromExport  TimeSource = "export"
	TimeFromExif    TimeSource = "exif"
	TimeFromModTime TimeSource = "mtime"
)

// Record represents one capture: a post, a memory, a realmoji, or a
// conversation message with its images.
type Record struct {
	// Kind is the source collection
	Kind Kind

	// ID identifies the record in logs and summaries
	ID string

	// Index is the position of the record in its source file
	Index int

	// TakenRaw is the UTC-labelled capture timestamp as found in the export
	TakenRaw string

	// MomentRaw is the BeReal moment timestamp (memories only)
	MomentRaw string

	// TimeSource is where TakenRaw came from
	TimeSource TimeSource

	// Location is the GPS fix, nil when absent or invalid
	Location *Location

	// Front is the selfie camera image, Back the main camera image (posts and memories)
	Front *Image
	Back  *Image

	// Media is the single realmoji image
	Media *Image

	// Images are the unlabelled images of a conversation message, sorted by name
	Images []Image

	// ConversationID and MessageID identify conversation records
	ConversationID string
	MessageID      string

	// UserID is the conversation message author, if known
	UserID string

	// Emoji is the realmoji reaction, if known
	Emoji string

	// Caption is the post caption, if any
	Caption string

	// DedupKey is assigned by the dedup index and read-only afterwards
	DedupKey string
}

// Primary returns the image that identifies the capture's content.
func (r *Record) Primary() *Image {
	switch {
	case r.Back != nil:
		return r.Back
	case r.Media != nil:
		return r.Media
	case len(r.Images) > 0:
		return &r.Images[0]
	case r.Front != nil:
		return r.Front
	}
	return nil
}

// Labeled reports whether the export says which image is which camera.
func (r *Record) Labeled() bool {
	return r.Front != nil && r.Back != nil
}

// Problem is a record that could not be decoded.
type Problem struct {
	Kind   Kind
	Source string
	Index  int
	Err    error
}

// Export is everything decoded from one export folder.
type Export struct {
	Root          string
	Memories      []Record
	Posts         []Record
	Realmojis     []Record
	Conversations []Record
	Problems      []Problem
}

// Records returns all records in processing order.
func (e *Export) Records() []Record {
	out := make([]Record, 0, len(e.Memories)+len(e.Posts)+len(e.Realmojis)+len(e.Conversations))
	out = append(out, e.Memories...)
	out = append(out, e.Posts...)
	out = append(out, e.Realmojis...)
	out = append(out, e.Conversations...)
	return out
}
