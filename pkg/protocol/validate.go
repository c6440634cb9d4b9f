package protocol

import "encoding/json"

// Request is a validated inbound request: kind tag, schema name, the
// client's correlation id and the typed argument array. Args holds the
// values encoding/json produced; positional validators have already
// confirmed their types, so handlers may assert without re-checking.
type Request struct {
	Kind          byte
	Name          string
	CorrelationID int64
	Args          []interface{}
}

// Validate parses a raw request string against the registry. Every failure
// is terminal: the caller logs the error and sends no response.
func (r *Registry) Validate(raw string) (*Request, error) {
	// Minimum viable request: kind tag plus "[n]".
	if len(raw) < 4 {
		return nil, ErrTooShort
	}

	kind := raw[0]
	schema := r.schemas[kind]
	if schema == nil {
		return nil, ErrUnknownKind
	}

	var elems []interface{}
	if err := json.Unmarshal([]byte(raw[1:]), &elems); err != nil {
		return nil, ErrMalformedArray
	}
	if len(elems) == 0 || !isInteger(elems[0]) {
		return nil, ErrMissingCorrelationID
	}
	correlationID := int64(elems[0].(float64))

	args := elems[1:]
	if len(args) != schema.Arity() {
		return nil, ErrArityMismatch
	}
	for i, field := range schema.Fields {
		if !field.Validate(args[i]) {
			return nil, &ValidationError{Kind: kind, FieldIndex: i, FieldName: field.Name}
		}
	}

	return &Request{
		Kind:          kind,
		Name:          schema.Name,
		CorrelationID: correlationID,
		Args:          args,
	}, nil
}
