package models

import "time"

// Attempt is one row of the login history.
type Attempt struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	State         string     `json:"state"`
	Success       bool       `json:"success"`
	Reason        string     `json:"reason"`
	CodeRequested bool       `json:"code_requested"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

// Account is the sign-in state read from steamcmd's config.vdf.
type Account struct {
	SignedIn bool   `json:"signed_in"`
	Username string `json:"username,omitempty"`
}

type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type HealthResponse struct {
	Status string  `json:"status"`
	Checks []Check `json:"checks"`
}
