package model

type NotificationType string

const (
	NotificationOrderPlaced     NotificationType = "ORDER_PLACED"
	NotificationOrderUpdate     NotificationType = "ORDER_UPDATE"
	NotificationNewCrop         NotificationType = "NEW_CROP"
	NotificationRequestAccepted NotificationType = "REQUEST_ACCEPTED"
	NotificationCallMissed      NotificationType = "CALL_MISSED"
	NotificationFeedback        NotificationType = "FEEDBACK_RECEIVED"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationOrderPlaced, NotificationOrderUpdate, NotificationNewCrop,
		NotificationRequestAccepted, NotificationCallMissed, NotificationFeedback:
		return true
	}
	return false
}

type Notification struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Text        string           `json:"text"`
	Type        NotificationType `json:"type"`
	IsRead      bool             `json:"is_read"`
	Timestamp   int64            `json:"timestamp"`
	ReferenceID string           `json:"reference_id,omitempty"`
}

// Feedback — отзыв покупателя о фермере (рейтинг 1..5).
type Feedback struct {
	ID        string `json:"id"`
	FarmerID  string `json:"farmer_id"`
	BuyerID   string `json:"buyer_id"`
	BuyerName string `json:"buyer_name"`
	CropID    string `json:"crop_id,omitempty"`
	CropName  string `json:"crop_name,omitempty"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	Timestamp int64  `json:"timestamp"`
}
