// Package protocol implements the textual request protocol: a static schema
// registry describing every request kind, the fail-closed validator that
// turns raw strings into typed requests, and the response encoder.
//
// A request string is a single-character kind tag followed by a JSON array
// whose first element is the client-chosen correlation id. The encryption
// flag that precedes the request on the wire belongs to the framing layer,
// not to this package.
package protocol

import (
	"regexp"
	"strings"
)

// Frame encryption flags. The framing layer strips these before handing the
// request string to Validate.
const (
	FlagPlain     = '0'
	FlagEncrypted = '1'
)

// Client request kinds.
const (
	KindSendMessage         = '1'
	KindLogin               = '3'
	KindEnterRoom           = '6'
	KindCheckUsername       = '7'
	KindCheckEmail          = '8'
	KindRegister            = '9'
	KindVerifyEmail         = 'a'
	KindTokenLogin          = 'b'
	KindLogout              = 'c'
	KindNewVerificationCode = 'd'
)

// Server push kinds, sent with correlation id 0.
const (
	KindKeyDelivery = '0'
	KindRoomMessage = '2'
)

// MaxMessageLength bounds chat message text.
const MaxMessageLength = 4096

// Validator is a per-argument predicate. Arguments arrive as the values
// encoding/json produces for interface{} (string, float64, bool, ...).
type Validator func(v interface{}) bool

// Field pairs a positional argument name with its validator.
type Field struct {
	Name     string
	Validate Validator
}

// Schema describes one request kind: its arguments in order and, for
// documentation, the response field names the handler fills in.
type Schema struct {
	Kind           byte
	Name           string
	Fields         []Field
	ResponseFields []string
}

// Arity returns the expected argument count, excluding the correlation id.
func (s *Schema) Arity() int {
	return len(s.Fields)
}

// Registry is the immutable kind-to-schema table, compiled once at startup.
type Registry struct {
	schemas map[byte]*Schema
}

// Schema returns the schema for a kind, or nil when unregistered.
func (r *Registry) Schema(kind byte) *Schema {
	return r.schemas[kind]
}

var (
	// Intentionally permissive: real address validation happens via the
	// verification mail, this only rejects obvious garbage.
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{2,32}$`)
)

func isString(v interface{}) bool {
	_, ok := v.(string)
	return ok
}

func isNonEmptyString(v interface{}) bool {
	s, ok := v.(string)
	return ok && s != ""
}

func isMessageText(v interface{}) bool {
	s, ok := v.(string)
	return ok && s != "" && len(s) <= MaxMessageLength
}

func isEmail(v interface{}) bool {
	s, ok := v.(string)
	return ok && emailRegex.MatchString(s)
}

func isRoomName(v interface{}) bool {
	s, ok := v.(string)
	return ok && roomNameRegex.MatchString(s)
}

func isUsername(v interface{}) bool {
	s, ok := v.(string)
	return ok && usernameRegex.MatchString(s)
}

func isPassword(v interface{}) bool {
	s, ok := v.(string)
	return ok && len(s) >= 2 && !strings.ContainsAny(s, "\x00")
}

// isInteger reports whether a JSON number carries an integral value.
// encoding/json decodes all numbers to float64.
func isInteger(v interface{}) bool {
	f, ok := v.(float64)
	return ok && f == float64(int64(f))
}

func isBit(v interface{}) bool {
	f, ok := v.(float64)
	return ok && (f == 0 || f == 1)
}

func isNonNegativeInt(v interface{}) bool {
	f, ok := v.(float64)
	return ok && isInteger(v) && f >= 0
}

// DefaultRegistry compiles the full request schema table. The table is
// static for the process lifetime; handlers are attached separately by the
// dispatcher.
func DefaultRegistry() *Registry {
	schemas := []*Schema{
		{
			Kind: KindSendMessage, Name: "send_message",
			Fields:         []Field{{"text", isMessageText}},
			ResponseFields: []string{},
		},
		{
			Kind: KindLogin, Name: "login",
			Fields: []Field{
				{"email", isEmail},
				{"password", isPassword},
				{"request_token", isBit},
			},
			ResponseFields: []string{"accepted", "name", "needs_verification", "token"},
		},
		{
			Kind: KindEnterRoom, Name: "enter_room",
			Fields: []Field{
				{"room_name", isRoomName},
				{"last_message_id", isNonNegativeInt},
			},
			ResponseFields: []string{"messages"},
		},
		{
			Kind: KindCheckUsername, Name: "check_username",
			Fields:         []Field{{"name", isUsername}},
			ResponseFields: []string{"available"},
		},
		{
			Kind: KindCheckEmail, Name: "check_email",
			Fields:         []Field{{"email", isEmail}},
			ResponseFields: []string{"available"},
		},
		{
			Kind: KindRegister, Name: "register",
			Fields: []Field{
				{"email", isEmail},
				{"name", isUsername},
				{"password", isPassword},
			},
			ResponseFields: []string{"accepted", "email_available", "name_available"},
		},
		{
			Kind: KindVerifyEmail, Name: "verify_email",
			Fields:         []Field{{"code", isNonEmptyString}},
			ResponseFields: []string{"accepted"},
		},
		{
			Kind: KindTokenLogin, Name: "token_login",
			Fields: []Field{
				{"email", isEmail},
				{"token", isNonEmptyString},
			},
			ResponseFields: []string{"accepted", "needs_verification", "name", "new_token"},
		},
		{
			Kind: KindLogout, Name: "logout",
			Fields:         []Field{{"token", isString}},
			ResponseFields: []string{},
		},
		{
			Kind: KindNewVerificationCode, Name: "new_verification_code",
			Fields:         []Field{},
			ResponseFields: []string{},
		},
	}

	table := make(map[byte]*Schema, len(schemas))
	for _, s := range schemas {
		table[s.Kind] = s
	}
	return &Registry{schemas: table}
}
