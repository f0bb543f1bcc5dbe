package domain

import "encoding/json"

// Prediction is the JSON object produced by the external prediction step. Its
// shape belongs to the script, so it is carried through verbatim.
type Prediction json.RawMessage

// MarshalJSON emits the raw object.
func (p Prediction) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}
