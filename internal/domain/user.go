package domain

import "time"

type User struct {
	UserID      string    `json:"id" dynamodbav:"user_id"`
	Username    string    `json:"username" dynamodbav:"username"`
	Email       string    `json:"email" dynamodbav:"email"`
	DisplayName string    `json:"display_name" dynamodbav:"display_name"`
	Enable      int       `json:"enable" dynamodbav:"enable"`
	CreatedAt   time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated" dynamodbav:"updated_at"`
}
