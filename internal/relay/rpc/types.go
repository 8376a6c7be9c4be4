package rpc

import "fmt"

// Article is one row of the structure listing. Priority and Template stay
// strings since the listing renders them as free text.
type Article struct {
	ID         int
	Name       string
	CategoryID int
	Priority   string
	Template   string
}

// Category is one node of the flattened category tree. Children holds the
// ids of the direct sub-categories; the flattened result list contains the
// child records themselves.
type Category struct {
	ID       int
	ParentID int
	Level    int
	Name     string
	Children []int
}

// Template is one row of the template listing.
type Template struct {
	ID     int
	Name   string
	Active bool
}

// Module is one row of the module listing.
type Module struct {
	ID     int
	Name   string
	Active bool
}

// ScrapeError means a response did not carry the expected markup: a missing
// table, an absent success marker, or a verification read that contradicts
// the mutation just issued.
type ScrapeError struct {
	Page   string
	Reason string
}

// Error implements the error interface.
func (e *ScrapeError) Error() string {
	return fmt.Sprintf("unexpected markup on %s: %s", e.Page, e.Reason)
}
