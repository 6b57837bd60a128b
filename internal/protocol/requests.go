package protocol

import (
	"encoding/json"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

type authBody struct {
	Token string `json:"token"`
}

type textBody struct {
	Text string `json:"text"`
}

type reasonTextBody struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type riskPropBody struct {
	ID    string    `json:"id"`
	Props RiskProps `json:"props"`
}

// Auth authenticates the connection with a Misskey access token.
func Auth(token string) Request {
	return NewRequest(OpAuth, authBody{Token: token})
}

// FetchEmoji asks the server to push one emoji.
func FetchEmoji(id string) Request {
	return NewRequest(OpFetchEmoji, IDBody{ID: id})
}

// FetchAllEmojis asks the server to push every emoji.
func FetchAllEmojis() Request {
	return NewRequest(OpFetchAllEmojis, struct{}{})
}

// FetchDeletedEmoji asks the server to push one deleted emoji.
func FetchDeletedEmoji(id string) Request {
	return NewRequest(OpFetchDeletedEmoji, IDBody{ID: id})
}

// FetchAllDeletedEmojis asks the server to push every deleted emoji.
func FetchAllDeletedEmojis() Request {
	return NewRequest(OpFetchAllDeletedEmoji, struct{}{})
}

// FetchUser asks the server to push one user.
func FetchUser(id string) Request {
	return NewRequest(OpFetchUser, IDBody{ID: id})
}

// FetchAllUsers asks the server to push every user.
func FetchAllUsers() Request {
	return NewRequest(OpFetchAllUsers, struct{}{})
}

// FetchRisk asks the server to push one risk.
func FetchRisk(id string) Request {
	return NewRequest(OpFetchRisk, IDBody{ID: id})
}

// FetchAllRisks asks the server to push every risk.
func FetchAllRisks() Request {
	return NewRequest(OpFetchAllRisks, struct{}{})
}

// FetchReason asks the server to push one reason.
func FetchReason(id string) Request {
	return NewRequest(OpFetchReason, IDBody{ID: id})
}

// FetchAllReasons asks the server to push every reason.
func FetchAllReasons() Request {
	return NewRequest(OpFetchAllReasons, struct{}{})
}

// SetRiskProp changes the given properties of a risk. Only properties set
// on props are sent; the server leaves the others untouched.
func SetRiskProp(id string, props RiskProps) Request {
	return NewRequest(OpSetRiskProp, riskPropBody{ID: id, Props: props})
}

// CreateReason adds a reason to the vocabulary.
func CreateReason(text string) Request {
	return NewRequest(OpCreateReason, textBody{Text: text})
}

// DeleteReason removes a reason from the vocabulary.
func DeleteReason(id string) Request {
	return NewRequest(OpDeleteReason, IDBody{ID: id})
}

// SetReasonText renames a reason.
func SetReasonText(id, text string) Request {
	return NewRequest(OpSetReasonText, reasonTextBody{ID: id, Text: text})
}

// Nullable is a property that can be left out, set to a value, or set to
// null explicitly.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// Value returns a Nullable holding v.
func Value[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null returns a Nullable that is explicitly null.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// Pointer returns a Nullable holding *p, or null when p is nil.
func Pointer[T any](p *T) Nullable[T] {
	return Nullable[T]{Set: true, Value: p}
}

// RiskProps is the partial update carried by set_risk_prop.
type RiskProps struct {
	Checked  *domain.CheckStatus
	Level    Nullable[domain.RiskLevel]
	ReasonID Nullable[string]
	Remark   *string
}

// IsEmpty returns true if no property is set.
func (p RiskProps) IsEmpty() bool {
	return p.Checked == nil && !p.Level.Set && !p.ReasonID.Set && p.Remark == nil
}

// MarshalJSON emits only the keys that are set.
func (p RiskProps) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 4)
	if p.Checked != nil {
		m["checked"] = int(*p.Checked)
	}
	if p.Level.Set {
		if p.Level.Value == nil {
			m["level"] = nil
		} else {
			m["level"] = int(*p.Level.Value)
		}
	}
	if p.ReasonID.Set {
		if p.ReasonID.Value == nil {
			m["reason_id"] = nil
		} else {
			m["reason_id"] = *p.ReasonID.Value
		}
	}
	if p.Remark != nil {
		m["remark"] = *p.Remark
	}
	return json.Marshal(m)
}
