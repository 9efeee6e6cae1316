package services

import (
	"time"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
)

// MaxNotifications is how many notifications are retained, newest first.
const MaxNotifications = 50

// NotificationService turns core state transitions into user-facing events.
type NotificationService struct {
	notifications []models.Notification
	emitted       int
	clock         func() time.Time
}

func NewNotificationService(clock func() time.Time) *NotificationService {
	if clock == nil {
		clock = time.Now
	}
	return &NotificationService{clock: clock}
}

func (n *NotificationService) Load(notifications []models.Notification) {
	if len(notifications) > MaxNotifications {
		notifications = notifications[:MaxNotifications]
	}
	n.notifications = append([]models.Notification{}, notifications...)
}

// Emit prepends a notification, dropping the oldest past the cap.
func (n *NotificationService) Emit(kind models.NotificationType, title, message string) models.Notification {
	note := models.Notification{
		ID:        models.NewID(),
		Type:      kind,
		Title:     title,
		Message:   message,
		Timestamp: models.Millis(n.clock()),
	}
	n.notifications = append([]models.Notification{note}, n.notifications...)
	if len(n.notifications) > MaxNotifications {
		n.notifications = n.notifications[:MaxNotifications]
	}
	n.emitted++
	return note
}

func (n *NotificationService) Success(title, message string) models.Notification {
	return n.Emit(models.NotificationSuccess, title, message)
}

func (n *NotificationService) Error(title, message string) models.Notification {
	return n.Emit(models.NotificationError, title, message)
}

func (n *NotificationService) Info(title, message string) models.Notification {
	return n.Emit(models.NotificationInfo, title, message)
}

func (n *NotificationService) Warning(title, message string) models.Notification {
	return n.Emit(models.NotificationWarning, title, message)
}

// MarkRead flags one notification as read.
func (n *NotificationService) MarkRead(id string) error {
	for i := range n.notifications {
		if n.notifications[i].ID == id {
			n.notifications[i].Read = true
			return nil
		}
	}
	return apperrors.NewNotFoundError("notification", id)
}

func (n *NotificationService) ClearAll() {
	n.notifications = []models.Notification{}
}

// Notifications returns the retained notifications, newest first.
func (n *NotificationService) Notifications() []models.Notification {
	return append([]models.Notification{}, n.notifications...)
}

// Emitted counts every notification ever emitted, including dropped ones.
func (n *NotificationService) Emitted() int {
	return n.emitted
}

// Since returns the notifications emitted after the counter read mark,
// newest first, limited to what is still retained.
func (n *NotificationService) Since(mark int) []models.Notification {
	count := n.emitted - mark
	if count <= 0 {
		return nil
	}
	if count > len(n.notifications) {
		count = len(n.notifications)
	}
	return append([]models.Notification{}, n.notifications[:count]...)
}
