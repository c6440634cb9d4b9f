package protocol

import "encoding/json"

// Encode builds an outbound response body: the kind tag followed by a JSON
// array of the correlation id and the response fields. The framing layer
// prepends the encryption flag.
func Encode(kind byte, correlationID int64, fields []interface{}) ([]byte, error) {
	elems := make([]interface{}, 0, len(fields)+1)
	elems = append(elems, correlationID)
	elems = append(elems, fields...)

	body, err := json.Marshal(elems)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, kind)
	return append(out, body...), nil
}

// EncodePush builds a server-initiated message. Pushes carry correlation
// id 0, which clients never use for requests.
func EncodePush(kind byte, fields []interface{}) ([]byte, error) {
	return Encode(kind, 0, fields)
}
