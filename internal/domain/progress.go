package domain

// UploadProgress is the poll-able state of one ingestion job.
type UploadProgress struct {
	User            string `json:"user"`
	UploadID        string `json:"upload_id"`
	Size            int64  `json:"size"`
	TotalSize       int64  `json:"total_size"`
	Files           int64  `json:"files"`
	TotalFiles      int64  `json:"total_files"`
	Done            bool   `json:"done"`
	Collection      string `json:"coll,omitempty"`
	CollectionTitle string `json:"coll_title,omitempty"`
	Filename        string `json:"filename,omitempty"`
}

