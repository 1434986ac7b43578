// Package api defines the wire types exchanged with the MsgBlast backend.
package api

// Error is the backend's error envelope. Any field may be absent
// depending on the endpoint.
type Error struct {
	Message       string `json:"message,omitempty"`
	ForceLogout   bool   `json:"forceLogout,omitempty"`
	RemainingTime int    `json:"remainingTime,omitempty"`
}

// LoginRequest carries credentials for the credential exchange.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful credential exchange.
// Verified is the literal "yes"/"no" the backend sends.
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Verified string `json:"verified"`
}

// UserInstanceResponse reports whether the account already owns an instance.
type UserInstanceResponse struct {
	HasInstance bool   `json:"hasInstance"`
	InstanceID  string `json:"instanceId,omitempty"`
}

// SaveInstanceRequest provisions a new messaging instance.
type SaveInstanceRequest struct {
	InstanceID string `json:"instance_id"`
	RegisterID string `json:"register_id"`
}

// ConnectionState is the backend-reported device-link state.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateClosed       ConnectionState = "closed"
	StateReconnecting ConnectionState = "reconnecting"
)

// StatusResponse is the {instance}/status payload.
type StatusResponse struct {
	Success   bool            `json:"success"`
	Connected bool            `json:"connected"`
	Status    ConnectionState `json:"status"`
	Message   string          `json:"message,omitempty"`
}

// QRCodeResponse is the {instance}/qrcode payload. QRCode is an opaque
// renderable payload (the backend sends a data URL).
type QRCodeResponse struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	QRCode          string `json:"qrCode,omitempty"`
}

// CSVUploadResponse is returned by {instance}/upload-csv after the
// backend parses the recipient table. Data rows are header-keyed; values
// arrive as whatever JSON type the backend inferred.
type CSVUploadResponse struct {
	PhoneNumbers []string         `json:"phoneNumbers"`
	Headers      []string         `json:"headers"`
	Data         []map[string]any `json:"data"`
	Message      string           `json:"message,omitempty"`
}

// MediaUploadResponse is returned by {instance}/upload-media.
type MediaUploadResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath"`
	Message  string `json:"message,omitempty"`
}

// OutboundMessage is one fully resolved personalized message.
type OutboundMessage struct {
	Number  string `json:"number"`
	Text    string `json:"text"`
	Caption string `json:"caption"`
}

// SendMediaRequest is the {instance}/send-media payload.
type SendMediaRequest struct {
	Messages     []OutboundMessage `json:"messages"`
	FilePath     string            `json:"filePath"`
	ScheduleTime string            `json:"scheduleTime,omitempty"`
}

// SendMediaResponse reports the outcome of a batch dispatch.
type SendMediaResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CheckSubscriptionResponse is the entitlement gate payload.
type CheckSubscriptionResponse struct {
	Success         bool `json:"success"`
	HasSubscription bool `json:"hasSubscription"`
}

// PackageUsage holds the counters for one subscription window.
type PackageUsage struct {
	Package            string `json:"package,omitempty"`
	TotalMessages      int64  `json:"total_messages"`
	MessagesSent       int64  `json:"messages_sent"`
	MessagesRemaining  int64  `json:"messages_remaining,omitempty"`
	SuccessfulMessages int64  `json:"successful_messages"`
	FailedMessages     int64  `json:"failed_messages"`
	DaysRemaining      int    `json:"days_remaining,omitempty"`
	DatePurchased      string `json:"date_purchased,omitempty"`
	DateExpiry         string `json:"date_expiry,omitempty"`
}

// SubscriptionDetails is the nested usage payload of {instance}/subscription.
type SubscriptionDetails struct {
	Current      PackageUsage     `json:"current"`
	AllTime      PackageUsage     `json:"allTime"`
	PackageStats map[string]int64 `json:"packageStats,omitempty"`
}

// SubscriptionResponse wraps SubscriptionDetails with the success flag.
type SubscriptionResponse struct {
	Success bool                `json:"success"`
	Data    SubscriptionDetails `json:"data"`
	Message string              `json:"message,omitempty"`
}
