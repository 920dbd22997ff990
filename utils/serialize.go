package utils

import (
	"github.com/goccy/go-json"
	"github.com/juju/errors"
)

// Serialize is the JSON encoding used for everything written to a store.
// HTML characters are not escaped so payloads are stored as given.
func Serialize(o any) ([]byte, error) {
	b, err := json.MarshalNoEscape(o)
	if err != nil {
		return nil, errors.Annotatef(err, "serialize %T", o)
	}
	return b, nil
}

func Unserialize(b []byte, o any) error {
	return errors.Annotatef(json.Unmarshal(b, o), "unserialize into %T", o)
}
