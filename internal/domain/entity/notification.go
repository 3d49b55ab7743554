package entity

import "time"

// NotificationIntent is handed to a notification sink. It is not persisted
// by the workflow itself.
type NotificationIntent struct {
	Recipient       string `json:"recipient"`
	RecipientOpenID string `json:"-"`
	Title           string `json:"title"`
	Message         string `json:"message"`
	Link            string `json:"link"`
	SubjectKey      string `json:"subject_key"`
}

// StoredNotification is a notification intent as kept by the store sink
type StoredNotification struct {
	ID int64 `json:"id"`
	NotificationIntent
	CreatedAt time.Time `json:"created_at"`
}
