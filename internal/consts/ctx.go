package consts

// CtxKey is the type used for context value keys.
type CtxKey string

const (
	CtxKeyLogID     CtxKey = "log_id"
	CtxKeyTrigger   CtxKey = "trigger"
	CtxKeyChannelID CtxKey = "channel_id"
	CtxKeyUserID    CtxKey = "user_id"
)
