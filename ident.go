package identcatalog

import (
	"strings"

	"github.com/google/uuid"
)

// Ident kinds. An ident names a piece of physical storage and stays stable
// for the lifetime of that storage, independent of the logical namespace.
const (
	KindCollection = "collection"
	KindIndex      = "index"
)

// NewIdent generates a globally unique ident of the given kind, e.g.
// "collection-353b67e1-0a36-4f25-9397-6b7a3c7bb0f6". Uniqueness across all
// live collection and index idents is a system-wide invariant.
func NewIdent(kind string) string {
	return kind + "-" + uuid.NewString()
}

// NewCollectionIdent generates an ident for collection storage.
func NewCollectionIdent() string {
	return NewIdent(KindCollection)
}

// NewIndexIdent generates an ident for index storage.
func NewIndexIdent() string {
	return NewIdent(KindIndex)
}

// IdentKind returns the kind prefix of an ident, or "" if it has none.
func IdentKind(ident string) string {
	kind, _, ok := strings.Cut(ident, "-")
	if !ok {
		return ""
	}
	return kind
}
