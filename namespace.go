// Package identcatalog provides the core value types for the durable
// metadata catalog of a document storage engine: logical namespaces,
// storage idents and content checksums.
package identcatalog

import (
	"fmt"
	"strings"
)

// Namespace is the logical name of a collection or view: a database name
// and a collection name joined by a dot. The namespace of a catalog entry
// may change via rename; the ident backing it never does.
type Namespace struct {
	db   string
	coll string
}

// NewNamespace creates a namespace from a database and collection name.
func NewNamespace(db, coll string) Namespace {
	return Namespace{db: db, coll: coll}
}

// ParseNamespace parses a "db.collection" string. The collection part may
// itself contain dots (e.g. "db.system.views"); only the first dot splits.
func ParseNamespace(s string) (Namespace, error) {
	db, coll, ok := strings.Cut(s, ".")
	if !ok || db == "" || coll == "" {
		return Namespace{}, fmt.Errorf("invalid namespace %q: want db.collection", s)
	}
	return Namespace{db: db, coll: coll}, nil
}

// DB returns the database part of the namespace.
func (n Namespace) DB() string {
	return n.db
}

// Collection returns the collection part of the namespace.
func (n Namespace) Collection() string {
	return n.coll
}

// IsEmpty reports whether the namespace is the zero value.
func (n Namespace) IsEmpty() bool {
	return n.db == "" && n.coll == ""
}

// String returns the "db.collection" form.
func (n Namespace) String() string {
	if n.IsEmpty() {
		return ""
	}
	return n.db + "." + n.coll
}

// MarshalText implements encoding.TextMarshaler.
func (n Namespace) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Namespace) UnmarshalText(text []byte) error {
	ns, err := ParseNamespace(string(text))
	if err != nil {
		return err
	}
	*n = ns
	return nil
}
