// Package model holds database row types for the API service.
package model

import "time"

// UsageLog is one recorded API call in the usage_logs table
type UsageLog struct {
	ID           int64     `db:"id"`
	UserID       string    `db:"user_id"`
	UserEmail    string    `db:"user_email"`
	UserName     string    `db:"user_name"`
	Endpoint     string    `db:"endpoint"`
	Method       string    `db:"method"`
	StatusCode   int       `db:"status_code"`
	RequestBody  []byte    `db:"request_body"`
	ResponseBody []byte    `db:"response_body"`
	ErrorMessage string    `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
}
