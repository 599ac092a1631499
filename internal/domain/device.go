package domain

import "time"

// Push platforms a device endpoint can be registered on.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

// Device is a registered handset. Token holds the push platform endpoint for the device.
type Device struct {
	DeviceID  string    `json:"id" dynamodbav:"device_id"`
	UUID      string    `json:"uuid" dynamodbav:"device_uuid"`
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Token     *string   `json:"token" dynamodbav:"token"`
	Platform  string    `json:"platform" dynamodbav:"platform"`
	Enable    bool      `json:"enable" dynamodbav:"enable"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated" dynamodbav:"updated_at"`
}

// DeviceAddress is a resolved push destination.
type DeviceAddress struct {
	UserID   string
	DeviceID string
	Token    string
	Platform string
}
