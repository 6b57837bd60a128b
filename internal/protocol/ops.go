// Package protocol implements the wire codec shared with the moderation
// server: JSON text frames of the form {"op", "reqid"?, "body"}.
package protocol

// Op is the operation name carried in every frame.
type Op string

// Request operations.
const (
	OpAuth                 Op = "auth"
	OpFetchEmoji           Op = "fetch_emoji"
	OpFetchAllEmojis       Op = "fetch_all_emojis"
	OpFetchDeletedEmoji    Op = "fetch_deleted_emoji"
	OpFetchAllDeletedEmoji Op = "fetch_all_deleted_emojis"
	OpFetchUser            Op = "fetch_user"
	OpFetchAllUsers        Op = "fetch_all_users"
	OpFetchRisk            Op = "fetch_risk"
	OpFetchAllRisks        Op = "fetch_all_risks"
	OpFetchReason          Op = "fetch_reason"
	OpFetchAllReasons      Op = "fetch_all_reasons"
	OpSetRiskProp          Op = "set_risk_prop"
	OpCreateReason         Op = "create_reason"
	OpDeleteReason         Op = "delete_reason"
	OpSetReasonText        Op = "set_reason_text"
)

// Response statuses. "error" and "internal_error" are also sent as pushes.
const (
	OpOK            Op = "ok"
	OpDenied        Op = "denied"
	OpInternalError Op = "internal_error"
	OpError         Op = "error"
)

// Push operations.
const (
	OpUserUpdate          Op = "user_update"
	OpUsersUpdate         Op = "users_update"
	OpEmojiUpdate         Op = "emoji_update"
	OpEmojisUpdate        Op = "emojis_update"
	OpEmojiDelete         Op = "emoji_delete"
	OpEmojisDelete        Op = "emojis_delete"
	OpDeletedEmojiUpdate  Op = "deleted_emoji_update"
	OpDeletedEmojisUpdate Op = "deleted_emojis_update"
	OpRiskUpdate          Op = "risk_update"
	OpRisksUpdate         Op = "risks_update"
	OpReasonUpdate        Op = "reason_update"
	OpReasonsUpdate       Op = "reasons_update"
	OpReasonDelete        Op = "reason_delete"
	OpReasonsDelete       Op = "reasons_delete"

	OpMisskeyAPIError     Op = "misskey_api_error"
	OpMisskeyUnknownError Op = "misskey_unknown_error"
)

// String returns the string representation of the op.
func (o Op) String() string {
	return string(o)
}

// IsMutationPush returns true for pushes that change the registry.
func (o Op) IsMutationPush() bool {
	switch o {
	case OpUserUpdate, OpUsersUpdate,
		OpEmojiUpdate, OpEmojisUpdate, OpEmojiDelete, OpEmojisDelete,
		OpDeletedEmojiUpdate, OpDeletedEmojisUpdate,
		OpRiskUpdate, OpRisksUpdate,
		OpReasonUpdate, OpReasonsUpdate, OpReasonDelete, OpReasonsDelete:
		return true
	default:
		return false
	}
}

// IsErrorPush returns true for terminal error pushes that carry no
// registry mutation.
func (o Op) IsErrorPush() bool {
	switch o {
	case OpMisskeyAPIError, OpMisskeyUnknownError, OpError, OpInternalError:
		return true
	default:
		return false
	}
}

// IsOK returns true if the op is the success response status.
func (o Op) IsOK() bool {
	return o == OpOK
}
