package models

// Actor is the caller-supplied identity. It is copied unmodified into
// every audit record the engine writes.
type Actor struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	IPAddress string `json:"ip_address"`
}

// SystemActor is used for writes the engine performs on its own behalf,
// such as lazily expiring an authorization or raising a threshold alert.
var SystemActor = Actor{UserID: "system", Username: "system", Role: "SYSTEM"}
