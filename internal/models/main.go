// Package models defines the core registry records shared by the server and the client:
// users, items, files, and the relationships linking files to items.
package models

import "time"

// User represents a registered registry user. The login doubles as the
// Common Name of the user's client certificate.
type User struct {
	// Login is the unique user name.
	Login string `json:"login"`
}

// ItemType identifies the kind of registry item.
type ItemType string

const (
	// ItemDocument is a generic controlled document.
	ItemDocument ItemType = "Document"
	// ItemCAD is a CAD model or drawing.
	ItemCAD ItemType = "CAD"
	// ItemPart is a manufactured part record.
	ItemPart ItemType = "Part"
)

// ItemTypes lists every supported item type.
var ItemTypes = []ItemType{ItemDocument, ItemCAD, ItemPart}

// Valid reports whether t is one of the supported item types.
func (t ItemType) Valid() bool {
	for _, known := range ItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Lifecycle states used by the registry.
const (
	StatePreliminary = "Preliminary"
	StateInReview    = "In Review"
	StateReleased    = "Released"
	StateObsolete    = "Obsolete"
)

// PropertyNativeFile is the direct file-reference property of an item.
const PropertyNativeFile = "native_file"

// Item is a versioned business record (Document, CAD or Part) with a lifecycle state
// and an optional lock.
type Item struct {
	// ID is the opaque registry identifier.
	ID string `json:"id"`
	// Type is the item kind.
	Type ItemType `json:"type"`
	// ItemNumber is the business key, unique per type.
	ItemNumber string `json:"item_number"`
	// Name is the human readable title.
	Name string `json:"name"`
	// State is the lifecycle label.
	State string `json:"state"`
	// LockedBy holds the login of the lock holder; empty means unlocked.
	LockedBy string `json:"locked_by,omitempty"`
	// Revision is the revision label, e.g. "A".
	Revision string `json:"revision"`
	// Properties holds direct property values such as native_file.
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ModifiedAt time.Time         `json:"modified_at"`
}

// Locked reports whether the item is checked out by anyone.
func (i *Item) Locked() bool {
	return i.LockedBy != ""
}

// File is a binary stored in the registry vault.
type File struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	LockedBy    string    `json:"locked_by,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Relationship links a file to an item under a named relationship type
// such as "Document File".
type Relationship struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourceType ItemType  `json:"source_type"`
	SourceID   string    `json:"source_id"`
	RelatedID  string    `json:"related_id"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}
