// Package ref normalizes fields that carry either a bare user id or the
// expanded user document it points to.
package ref

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Ref holds the id a reference points to. It decodes from a JSON string,
// null, or an object carrying one of "_id", "id" or "userId".
type Ref struct {
	id string
}

func New(id string) Ref { return Ref{id: id} }

func (r Ref) ID() string { return r.id }

func (r Ref) IsZero() bool { return r.id == "" }

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.id)
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		r.id = ""
		return nil
	case b[0] == '"':
		return json.Unmarshal(b, &r.id)
	case b[0] == '{':
		var doc struct {
			MongoID string `json:"_id"`
			ID      string `json:"id"`
			UserID  string `json:"userId"`
		}
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
		r.id = first(doc.MongoID, doc.ID, doc.UserID)
		return nil
	}
	return fmt.Errorf("ref: cannot decode %s", b)
}

// ID extracts the id out of any value that may reference a user: a string,
// a Ref, a pointer to either, or a decoded JSON object.
func ID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case Ref:
		return t.id
	case *Ref:
		if t == nil {
			return ""
		}
		return t.id
	case map[string]any:
		for _, k := range []string{"_id", "id", "userId"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
	case fmt.Stringer:
		return t.String()
	}
	return ""
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
