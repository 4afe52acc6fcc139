package domain

// SegmentKind distinguishes collection-level metadata segments from recordings.
type SegmentKind string

const (
	KindCollection SegmentKind = "collection"
	KindRecording  SegmentKind = "recording"
)

// DefaultRecordingTitle is used when a metadata record carries no title, and
// for the implicit recording synthesized for streams without metadata.
const DefaultRecordingTitle = "Uploaded Recording"

// SegmentDescriptor is one logical unit found in an uploaded archive stream.
// Offset and Length describe a byte range of the source stream; the range
// starts right after the metadata record that introduced the segment.
type SegmentDescriptor struct {
	Kind        SegmentKind `json:"type"`
	Offset      int64       `json:"offset"`
	Length      int64       `json:"length"`
	Title       string      `json:"title"`
	Description string      `json:"desc,omitempty"`
	RecType     string      `json:"rec_type,omitempty"`
	Public      bool        `json:"public,omitempty"`

	// CreatedAt and UpdatedAt are unix seconds, nil when the metadata had neither
	// an ISO date nor an epoch value.
	CreatedAt *int64 `json:"created_at,omitempty"`
	UpdatedAt *int64 `json:"updated_at,omitempty"`

	// Pages is nil when the metadata embedded no page list, which asks the
	// importer to detect pages from the index instead.
	Pages []PageEntry `json:"pages,omitempty"`

	// RemoteReferences holds archive ids resolved from WARC-Source-URI headers
	// of records inside this segment.
	RemoteReferences []string `json:"ra,omitempty"`
}

// End returns the offset just past the segment.
func (s SegmentDescriptor) End() int64 {
	return s.Offset + s.Length
}

// AddRemoteReference records an archive id once.
func (s *SegmentDescriptor) AddRemoteReference(id string) {
	for _, existing := range s.RemoteReferences {
		if existing == id {
			return
		}
	}
	s.RemoteReferences = append(s.RemoteReferences, id)
}
