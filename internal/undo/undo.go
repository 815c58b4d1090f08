// Package undo implements the reversible diff record carried in the shell
// environment as the string value of __shadowenv_data (spec §3, §4.B).
//
// The record is a user-data artifact at a trust boundary: a shell exporting
// a forged __shadowenv_data cannot expand the engine's trust, so parsing
// must never panic and must tolerate missing or extra fields (spec §9
// "Tolerant undo parser").
package undo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ZeroHash is the sentinel chain hash meaning "no active overlay".
const ZeroHash = "0000000000000000"

// ErrMalformed is returned when __shadowenv_data is syntactically invalid:
// ill-formed hex in the hash prefix, or JSON that cannot be unmarshaled into
// Data at all (as opposed to merely omitting fields, which is tolerated).
var ErrMalformed = errors.New("shadowenv: malformed undo record")

// Scalar records that variable Name was observed as Original before this
// activation produced Current. A nil pointer means "the variable was
// unset". NoClobber marks a variable the user overrode outside the overlay;
// such a variable is never rewritten again (spec invariant 2).
type Scalar struct {
	Name      string  `json:"name"`
	Original  *string `json:"original"`
	Current   *string `json:"current"`
	NoClobber bool    `json:"no_clobber,omitempty"`
}

// List describes a colon-separated path list in edit terms.
type List struct {
	Name      string   `json:"name"`
	Additions []string `json:"additions"`
	Deletions []string `json:"deletions"`
}

// Data is the parsed body of an undo record.
type Data struct {
	Scalars []Scalar `json:"scalars"`
	Lists   []List   `json:"lists"`
}

// New returns an empty Data, the identity record for an environment with no
// active overlay.
func New() Data {
	return Data{Scalars: []Scalar{}, Lists: []List{}}
}

// AddScalar appends a scalar mutation record.
func (d *Data) AddScalar(name string, original, current *string, noClobber bool) {
	d.Scalars = append(d.Scalars, Scalar{Name: name, Original: original, Current: current, NoClobber: noClobber})
}

// AddList appends a list mutation record.
func (d *Data) AddList(name string, additions, deletions []string) {
	d.Lists = append(d.Lists, List{Name: name, Additions: additions, Deletions: deletions})
}

// ParseRecord parses the format "[<16-hex>]:[<json>]" where both halves may
// be empty. It returns the hash prefix (ZeroHash substituted for the empty
// string) and the decoded Data, defaulting missing fields to empty
// sequences. An entirely empty string is treated as "no active overlay".
func ParseRecord(record string) (hash string, data Data, err error) {
	if record == "" {
		return ZeroHash, New(), nil
	}

	hashPart, jsonPart, found := strings.Cut(record, ":")
	if !found {
		// Tolerant: a bare hash with no JSON half is treated as an empty body.
		hashPart, jsonPart = record, ""
	}

	if hashPart == "" {
		hash = ZeroHash
	} else {
		if len(hashPart) != 16 || !isHex(hashPart) {
			return "", Data{}, fmt.Errorf("%w: bad hash prefix %q", ErrMalformed, hashPart)
		}
		hash = strings.ToLower(hashPart)
	}

	if strings.TrimSpace(jsonPart) == "" {
		return hash, New(), nil
	}

	data, err = parseData(jsonPart)
	if err != nil {
		return "", Data{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return hash, data, nil
}

// parseData decodes compact JSON into Data. It is tolerant of trailing
// input after the JSON value (spec §4.B "tolerant of trailing input to
// allow future fields") but rejects JSON that doesn't even parse, or that
// decodes into a shape incompatible with Data (e.g. a JSON array at the top
// level).
func parseData(raw string) (Data, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	var data Data
	if err := dec.Decode(&data); err != nil {
		return Data{}, err
	}
	if data.Scalars == nil {
		data.Scalars = []Scalar{}
	}
	if data.Lists == nil {
		data.Lists = []List{}
	}
	return data, nil
}

// Format serializes hash and data back into the wire format: the hash
// prefix, a colon, then compact JSON.
func Format(hash string, data Data) (string, error) {
	if hash == "" {
		hash = ZeroHash
	}
	if data.Scalars == nil {
		data.Scalars = []Scalar{}
	}
	if data.Lists == nil {
		data.Lists = []List{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("shadowenv: encoding undo record: %w", err)
	}
	return hash + ":" + string(body), nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
