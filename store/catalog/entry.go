package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"

	identcatalog "github.com/wolfeidau/ident-catalog"
	"github.com/wolfeidau/ident-catalog/store/recordstore"
)

// EntryIdentifier is the durable identity of one catalog row: the record id
// assigned by the persisted store, the ident naming the collection's
// physical storage, and the logical namespace. ID and Ident never change
// after creation; Namespace changes only via rename.
type EntryIdentifier struct {
	ID        recordstore.RecordID
	Ident     string
	Namespace identcatalog.Namespace
}

// IndexIdent pairs an index name with the ident naming its physical
// storage.
type IndexIdent struct {
	Name  string
	Ident string
}

// IndexIdents is an order-preserving mapping from index name to index
// ident. It serializes as a JSON object whose key order is the slice
// order, so enumeration returns idents in row order.
type IndexIdents []IndexIdent

// Get returns the ident for the named index.
func (ii IndexIdents) Get(name string) (string, bool) {
	for _, idx := range ii {
		if idx.Name == name {
			return idx.Ident, true
		}
	}
	return "", false
}

// Idents returns every index ident in row order.
func (ii IndexIdents) Idents() []string {
	if len(ii) == 0 {
		return nil
	}
	idents := make([]string, 0, len(ii))
	for _, idx := range ii {
		idents = append(idents, idx.Ident)
	}
	return idents
}

// MarshalJSON implements json.Marshaler, emitting keys in slice order.
func (ii IndexIdents) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, idx := range ii {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(idx.Name)
		if err != nil {
			return nil, err
		}
		ident, err := json.Marshal(idx.Ident)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(ident)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving object key order.
func (ii *IndexIdents) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*ii = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("idxIdent: expected object, got %v", tok)
	}

	var out IndexIdents
	for dec.More() {
		nameTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := nameTok.(string)
		if !ok {
			return fmt.Errorf("idxIdent: expected string key, got %v", nameTok)
		}
		var ident string
		if err := dec.Decode(&ident); err != nil {
			return fmt.Errorf("idxIdent %q: %w", name, err)
		}
		out = append(out, IndexIdent{Name: name, Ident: ident})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*ii = out
	return nil
}

// Row is the persisted form of a catalog entry. Rows with FeatureDoc set
// are catalog-wide housekeeping documents, not tied to any namespace, and
// are excluded from every enumeration API.
type Row struct {
	Namespace   string      `json:"ns,omitempty"`
	Ident       string      `json:"ident,omitempty"`
	IndexIdents IndexIdents `json:"idxIdent,omitempty"`
	FeatureDoc  bool        `json:"isFeatureDoc,omitempty"`
}

// NewRow builds the persisted row for a collection entry.
func NewRow(ns identcatalog.Namespace, ident string, indexes IndexIdents) *Row {
	return &Row{
		Namespace:   ns.String(),
		Ident:       ident,
		IndexIdents: indexes,
	}
}

// ParsedNamespace returns the row's namespace as a value type.
func (r *Row) ParsedNamespace() (identcatalog.Namespace, error) {
	return identcatalog.ParseNamespace(r.Namespace)
}

func encodeRow(r *Row) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding catalog row: %w", err)
	}
	return data, nil
}

func decodeRow(data []byte) (*Row, error) {
	var r Row
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding catalog row: %w", err)
	}
	return &r, nil
}
