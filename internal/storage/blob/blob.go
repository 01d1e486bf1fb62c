package blob

import "net/http"

// Object is a single archive blob ready for upload.
type Object struct {
	Key             string
	ContentType     string
	ContentEncoding string
	Body            []byte
}

// Receipt describes a finished upload. StatusCode is the transport status
// of the completion response; callers treat anything but 200 as a failed
// write.
type Receipt struct {
	Location   string `json:"location"`
	StatusCode int    `json:"statusCode"`
	Bytes      int64  `json:"bytes"`
}

func (r Receipt) OK() bool { return r.StatusCode == http.StatusOK }

// ProgressFunc receives bytes transferred so far and the total size.
type ProgressFunc func(loaded, total int64)
