// Package model defines domain entities used by services and repositories.
package model

import "time"

// Owner is the account whose passphrase mints device credentials.
// Only the slow hash of the passphrase is ever stored.
type Owner struct {
	ID             string // unique, ^[A-Za-z0-9_]{3,32}$
	PassphraseHash string // PHC-encoded Argon2id
	Email          string
	DisplayName    string
	CreatedAt      time.Time
}

// DeviceDescriptor is what a client declares about itself at Knock/Exchange time.
type DeviceDescriptor struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Challenge is a single-use nonce issued by Knock and redeemed by Exchange.
type Challenge struct {
	ID        string
	Device    DeviceDescriptor
	CreatedAt time.Time
	Used      bool
}

// Device is an issued device credential, keyed by the fast hash of its secret.
type Device struct {
	KeyHash   string // hex SHA-256 of the issued API key
	OwnerID   string
	DeviceID  string
	Device    DeviceDescriptor
	IssuedAt  time.Time
	LastUsed  time.Time
	Revoked   bool
	RevokedAt *time.Time
}

// Active reports whether the credential may still authenticate.
func (d *Device) Active() bool { return !d.Revoked }

// IssuedCredential is returned exactly once from a successful Exchange.
type IssuedCredential struct {
	APIKey   string
	DeviceID string
	OwnerID  string
	IssuedAt time.Time
}

// Features is the fixed stylometric feature vector of a writing sample.
type Features struct {
	MeanWordLength     float64 `json:"mean_word_length"`
	MeanSentenceLength float64 `json:"mean_sentence_length"`
	PunctuationRatio   float64 `json:"punctuation_ratio"`
	UppercaseRatio     float64 `json:"uppercase_ratio"`
	WhitespaceRatio    float64 `json:"whitespace_ratio"`
	UniqueWordRatio    float64 `json:"unique_word_ratio"`
	Ellipses           float64 `json:"ellipses"`
	Exclamations       float64 `json:"exclamations"`
	Questions          float64 `json:"questions"`
}

// Profile is an owner's behavioral baseline.
type Profile struct {
	OwnerID     string
	Features    Features
	SampleCount int
	UpdatedAt   time.Time
}

// RecoveryToken gates a passphrase reset after a successful behavioral match.
type RecoveryToken struct {
	OwnerID   string
	TokenHash string
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer usable at now.
func (t *RecoveryToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
