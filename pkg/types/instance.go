package types

import "time"

// Credentials are the portal login of one configured instance.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Valid returns true if both the username and password are filled in.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Instance is the persisted configuration of one monitor. Credentials are
// only ever stored encrypted.
type Instance struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Username             string    `json:"username"`
	EncryptedCredentials []byte    `json:"encryptedCredentials"`
	CreatedAt            time.Time `json:"createdAt"`
}
