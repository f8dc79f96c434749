package domain

import "time"

// MessagePage — запрос страницы сообщений по возрастанию порядка.
// AfterID и Since можно комбинировать; пустые значения — с начала комнаты.
type MessagePage struct {
	AfterID string
	Since   *time.Time
	Limit   int
}

// NotificationPage — страница уведомлений (новые сверху).
type NotificationPage struct {
	Cursor     string
	Limit      int
	UnreadOnly bool
}
