package model

type CallType string

const (
	CallVideo CallType = "video"
	CallAudio CallType = "audio"
)

func (t CallType) Valid() bool {
	return t == CallVideo || t == CallAudio
}

type CallStatus string

const (
	CallOffering CallStatus = "offering"
	CallAccepted CallStatus = "accepted"
	CallRejected CallStatus = "rejected"
	CallEnded    CallStatus = "ended"
	// CallBusy — звонок не состоялся: получатель занят другим разговором.
	CallBusy CallStatus = "busy"
)

// CallSignal — эфемерное общее состояние звонка между двумя пользователями.
// CallerName и CallerAvatar — снимок на момент звонка, не живая ссылка на профиль.
type CallSignal struct {
	ID           string     `json:"id"`
	CallerID     string     `json:"caller_id"`
	CallerName   string     `json:"caller_name"`
	CallerAvatar string     `json:"caller_avatar"`
	ReceiverID   string     `json:"receiver_id"`
	Type         CallType   `json:"type"`
	Status       CallStatus `json:"status"`
	Timestamp    int64      `json:"timestamp"`
	AcceptedAt   int64      `json:"accepted_at,omitempty"`
}

// Peer возвращает второго участника относительно userID.
func (c *CallSignal) Peer(userID string) string {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

// Involves сообщает, участвует ли userID в звонке.
func (c *CallSignal) Involves(userID string) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}
