package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

func TestDecode_Response(t *testing.T) {
	frame, err := Decode([]byte(`{"op":"ok","reqid":"R1","body":{"op":"fetch_all_emojis","message":"done"}}`))
	require.NoError(t, err)

	assert.Equal(t, FrameResponse, frame.Kind)
	assert.Equal(t, OpOK, frame.Op)
	assert.Equal(t, "R1", frame.ReqID)

	status := frame.Status()
	assert.Equal(t, OpFetchAllEmojis, status.Op)
	assert.Equal(t, "done", status.Message)
}

func TestDecode_Push(t *testing.T) {
	frame, err := Decode([]byte(`{"op":"emoji_delete","body":{"id":"e1"}}`))
	require.NoError(t, err)
	assert.Equal(t, FramePush, frame.Kind)

	var body IDBody
	require.NoError(t, frame.DecodeBody(&body))
	assert.Equal(t, "e1", body.ID)
}

func TestDecode_NullReqIDIsPush(t *testing.T) {
	frame, err := Decode([]byte(`{"op":"risk_update","reqid":null,"body":{}}`))
	require.NoError(t, err)
	assert.Equal(t, FramePush, frame.Kind)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":      ``,
		"not json":   `hello`,
		"array":      `[1,2,3]`,
		"missing op": `{"body":{}}`,
		"bad reqid":  `{"op":"ok","reqid":42,"body":{}}`,
		"truncated":  `{"op":"ok","body":{`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedFrame)
		})
	}
}

func TestDecode_MissingBody(t *testing.T) {
	frame, err := Decode([]byte(`{"op":"error"}`))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), frame.Body)
	assert.Equal(t, StatusBody{}, frame.Status())
}

func TestRequest_Encode(t *testing.T) {
	req := Auth("secret")
	_, err := uuid.Parse(req.ReqID)
	require.NoError(t, err, "request ids are uuids")

	data, err := req.Encode()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "auth", got["op"])
	assert.Equal(t, req.ReqID, got["reqid"])
	assert.Equal(t, map[string]any{"token": "secret"}, got["body"])
}

func TestRequest_EncodeEmptyBody(t *testing.T) {
	data, err := FetchAllEmojis().Encode()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{}, got["body"])
}

func TestNewRequest_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := FetchAllRisks().ReqID
		require.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestSetRiskProp_OnlySetKeys(t *testing.T) {
	checked := domain.CheckStatusChecked
	tests := []struct {
		name  string
		props RiskProps
		want  string
	}{
		{
			name:  "checked only",
			props: RiskProps{Checked: &checked},
			want:  `{"checked":1}`,
		},
		{
			name:  "level value",
			props: RiskProps{Level: Value(domain.RiskLevelHigh)},
			want:  `{"level":2}`,
		},
		{
			name:  "level null",
			props: RiskProps{Level: Null[domain.RiskLevel]()},
			want:  `{"level":null}`,
		},
		{
			name:  "reason cleared and remark",
			props: RiskProps{ReasonID: Pointer[string](nil), Remark: domain.StringPtr("note")},
			want:  `{"reason_id":null,"remark":"note"}`,
		},
		{
			name:  "empty",
			props: RiskProps{},
			want:  `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := SetRiskProp("r1", tt.props).Encode()
			require.NoError(t, err)

			var env struct {
				Body struct {
					ID    string          `json:"id"`
					Props json.RawMessage `json:"props"`
				} `json:"body"`
			}
			require.NoError(t, json.Unmarshal(data, &env))
			assert.Equal(t, "r1", env.Body.ID)
			assert.JSONEq(t, tt.want, string(env.Body.Props))
		})
	}
}

func TestOp_Classification(t *testing.T) {
	assert.True(t, OpEmojisDelete.IsMutationPush())
	assert.False(t, OpEmojisDelete.IsErrorPush())
	assert.True(t, OpMisskeyAPIError.IsErrorPush())
	assert.True(t, OpInternalError.IsErrorPush())
	assert.False(t, Op("brand_new_push").IsMutationPush())
	assert.False(t, Op("brand_new_push").IsErrorPush())
	assert.True(t, OpOK.IsOK())
	assert.False(t, OpDenied.IsOK())
}
