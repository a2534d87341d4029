package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// exportVersion is the "version" field of an export document. Hand-edited
// files often carry it as a number (1 or 1.0) or with a "v" prefix.
type exportVersion string

func (v *exportVersion) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*v = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
		*v = exportVersion(s)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err == nil {
		*v = exportVersion(num.String())
		return nil
	}
	return fmt.Errorf("version must be a string or number, got %s", string(data))
}

func (v exportVersion) String() string {
	return string(v)
}
