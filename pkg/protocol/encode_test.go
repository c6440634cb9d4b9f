package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		kind   byte
		corrID int64
		fields []interface{}
		want   string
	}{
		{"empty fields", KindSendMessage, 5, []interface{}{}, `1[5]`},
		{"nil fields", KindLogout, 3, nil, `c[3]`},
		{"mixed fields", KindLogin, 2, []interface{}{1, "Alice", 0, "tok"}, `3[2,1,"Alice",0,"tok"]`},
		{"nested list", KindEnterRoom, 7, []interface{}{[]interface{}{}}, `6[7,[]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.kind, tt.corrID, tt.fields)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncodePushUsesZeroCorrelationID(t *testing.T) {
	got, err := EncodePush(KindRoomMessage, []interface{}{int64(12), "Alice", "hi", int64(1000)})
	require.NoError(t, err)
	assert.Equal(t, `2[0,12,"Alice","hi",1000]`, string(got))
}

func TestEncodedResponsesRevalidateStructurally(t *testing.T) {
	// A response body reuses the request layout, so a response to a request
	// kind parses back through the validator's structural stages.
	body, err := Encode(KindVerifyEmail, 2, []interface{}{"483920"})
	require.NoError(t, err)

	req, err := DefaultRegistry().Validate(string(body))
	require.NoError(t, err)
	assert.Equal(t, int64(2), req.CorrelationID)
}
