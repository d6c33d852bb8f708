package engine

import (
	"fmt"

	"github.com/atinyakov/PLMSync/internal/models"
)

// LinkKind is a way of attaching a file to an item.
type LinkKind string

const (
	// LinkRelationship creates a relationship object on the item.
	LinkRelationship LinkKind = "relationship"
	// LinkRelationshipByID authors the relationship by source and related IDs.
	LinkRelationshipByID LinkKind = "relationship_by_id"
	// LinkProperty writes the file ID into a direct item property.
	LinkProperty LinkKind = "property"
)

// Valid reports whether k is a known link kind.
func (k LinkKind) Valid() bool {
	switch k {
	case LinkRelationship, LinkRelationshipByID, LinkProperty:
		return true
	}
	return false
}

// LinkMethod is one step of a link strategy. Name is the relationship name
// for relationship kinds and the property name for LinkProperty.
type LinkMethod struct {
	Kind LinkKind `toml:"kind" json:"kind"`
	Name string   `toml:"name" json:"name"`
}

func (m LinkMethod) String() string {
	return fmt.Sprintf("%s %q", m.Kind, m.Name)
}

// LinkAttempt records the outcome of one link method.
type LinkAttempt struct {
	Method LinkMethod
	Err    error
}

func (a LinkAttempt) String() string {
	if a.Err == nil {
		return a.Method.String() + ": ok"
	}
	return a.Method.String() + ": " + a.Err.Error()
}

// DefaultLinkStrategies returns the declared link order per item type.
func DefaultLinkStrategies() map[models.ItemType][]LinkMethod {
	return map[models.ItemType][]LinkMethod{
		models.ItemDocument: {
			{Kind: LinkRelationship, Name: "Document File"},
			{Kind: LinkRelationshipByID, Name: "Document File"},
			{Kind: LinkProperty, Name: models.PropertyNativeFile},
		},
		models.ItemCAD: {
			{Kind: LinkProperty, Name: models.PropertyNativeFile},
			{Kind: LinkRelationship, Name: "CAD File"},
		},
		models.ItemPart: {
			{Kind: LinkRelationship, Name: "Part File"},
			{Kind: LinkProperty, Name: models.PropertyNativeFile},
		},
	}
}

// ValidateLinkStrategies rejects empty strategies and unknown kinds.
func ValidateLinkStrategies(s map[models.ItemType][]LinkMethod) error {
	for t, methods := range s {
		if !t.Valid() {
			return fmt.Errorf("link strategy for unknown item type %q", t)
		}
		if len(methods) == 0 {
			return fmt.Errorf("link strategy for %s is empty", t)
		}
		for i, m := range methods {
			if !m.Kind.Valid() {
				return fmt.Errorf("link strategy for %s: method %d has unknown kind %q", t, i, m.Kind)
			}
			if m.Name == "" {
				return fmt.Errorf("link strategy for %s: method %d has no name", t, i)
			}
		}
	}
	return nil
}

// fileSources splits a strategy into the relationship names and property
// names an item's current file may be found under, in declared order.
func fileSources(methods []LinkMethod) (relationships, properties []string) {
	seen := make(map[LinkMethod]bool)
	for _, m := range methods {
		key := LinkMethod{Kind: m.Kind, Name: m.Name}
		if m.Kind == LinkRelationshipByID {
			key.Kind = LinkRelationship
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		if key.Kind == LinkProperty {
			properties = append(properties, m.Name)
		} else {
			relationships = append(relationships, m.Name)
		}
	}
	return relationships, properties
}
