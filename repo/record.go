package repo

import "github.com/atkit-dev/atkit/syntax"

// Record is a stored record: its AT URI, content CID, and value.
type Record struct {
	URI   syntax.ATURI `json:"uri"`
	CID   string       `json:"cid"`
	Value Value        `json:"value"`
}

// ListRecordsOutput is one page of a collection listing. Cursor is
// empty when no further pages exist.
type ListRecordsOutput struct {
	Records []Record `json:"records"`
	Cursor  string   `json:"cursor,omitempty"`
}
