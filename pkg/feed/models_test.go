package feed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	raw := json.RawMessage(`{"id_str":"18446744073709551615","user":{"id_str":"2","screen_name":"x"}}`)

	r, err := ParseRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), r.ID)
	assert.Equal(t, uint64(2), r.AuthorID)
	assert.Equal(t, "x", r.Handle)

	raw[2] = 'X'
	assert.NotEqual(t, string(raw), string(r.Raw))
}

func TestParseRecordNumericID(t *testing.T) {
	r, err := ParseRecord(json.RawMessage(`{"id":123}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(123), r.ID)
	assert.Empty(t, r.Handle)
}

func TestParseRecordErrors(t *testing.T) {
	for _, raw := range []string{
		`[]`,
		`{"text":"no id"}`,
		`{"id_str":"-1"}`,
		`{"id_str":"1","user":{"id_str":"abc"}}`,
	} {
		_, err := ParseRecord(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}
}
