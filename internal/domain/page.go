package domain

// PageEntry is a navigable top-level capture of a recording.
type PageEntry struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// IndexEntry is one capture as stored in a recording's CDXJ index.
type IndexEntry struct {
	URLKey    string `json:"-"`
	Timestamp string `json:"-"`
	URL       string `json:"url"`
	MIME      string `json:"mime,omitempty"`
	Status    string `json:"status,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Length    int64  `json:"length,string,omitempty"`
	Offset    int64  `json:"offset,string,omitempty"`
	Filename  string `json:"filename,omitempty"`
}
