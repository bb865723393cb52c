package utils

import (
	"encoding/json"

	"github.com/juju/errors"
)

func Serialize(o any) ([]byte, error) {
	b, err := json.Marshal(o)
	return b, errors.Trace(err)
}

// SerializeString is Serialize for string typed destinations such as
// job parameters.
func SerializeString(o any) (string, error) {
	b, err := Serialize(o)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(b), nil
}

func Unserialize(b []byte, o any) error {
	return errors.Trace(json.Unmarshal(b, o))
}
