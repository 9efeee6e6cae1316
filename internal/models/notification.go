package models

type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
)

type Notification struct {
	ID        string           `bson:"id" json:"id"`
	Type      NotificationType `bson:"type" json:"type"`
	Title     string           `bson:"title" json:"title"`
	Message   string           `bson:"message" json:"message"`
	Timestamp int64            `bson:"timestamp" json:"timestamp"`
	Read      bool             `bson:"read" json:"read"`
}

type EventType string

const (
	EventStocks       EventType = "stocks"
	EventUser         EventType = "user"
	EventNotification EventType = "notification"
	EventSettings     EventType = "settings"
)

// Event is pushed to websocket subscribers after a state change.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Settings parameterize the periodic market update.
type Settings struct {
	UpdateIntervalSeconds int  `bson:"updateIntervalSeconds" json:"updateIntervalSeconds" mapstructure:"update_interval_seconds"`
	AutoUpdateEnabled     bool `bson:"autoUpdateEnabled" json:"autoUpdateEnabled" mapstructure:"auto_update"`
	VolatilityPercent     int  `bson:"volatilityPercent" json:"volatilityPercent" mapstructure:"volatility_percent"`
}

// DefaultSettings matches the settings page defaults.
func DefaultSettings() Settings {
	return Settings{
		UpdateIntervalSeconds: 5,
		AutoUpdateEnabled:     true,
		VolatilityPercent:     50,
	}
}
