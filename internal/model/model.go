// Package model defines the persisted entities of the vaultbox metadata
// store: the tables named in the design's data model, their invariants,
// and nothing else. Behavior lives in internal/store and internal/vaultbox.
package model

import "time"

// MailboxType is immutable once a Vaultbox is created.
type MailboxType string

const (
	MailboxEncrypted MailboxType = "encrypted"
	MailboxSimple    MailboxType = "simple"
)

// VaultboxStatus is the lifecycle state of a Vaultbox.
type VaultboxStatus string

const (
	StatusActive   VaultboxStatus = "active"
	StatusDisabled VaultboxStatus = "disabled"
)

// Vaultbox is the root entity: the unit of mailbox identity and encryption.
type Vaultbox struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	OwnerUserID string `gorm:"column:owner_user_id;index;not null"`
	Domain      string `gorm:"column:domain;index:idx_vaultbox_domain_alias,priority:1;not null"`
	DisplayName string `gorm:"column:display_name"`
	// Alias is the local-part. Required for encrypted mailboxes, optional
	// (nil) for simple mailboxes that have not yet gained a primary address.
	Alias       *string        `gorm:"column:alias;index:idx_vaultbox_domain_alias,priority:2"`
	MailboxType MailboxType    `gorm:"column:mailbox_type;not null"`
	Status      VaultboxStatus `gorm:"column:status;not null;default:active"`
	SMTPEnabled bool           `gorm:"column:smtp_enabled;not null;default:false"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Vaultbox) TableName() string { return "vaultboxes" }

// Certificate is a recipient S/MIME certificate owned by a vaultbox.
// Encryption targets all rows here for a vaultbox, in CreatedAt order.
type Certificate struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	VaultboxID    string `gorm:"column:vaultbox_id;index;not null"`
	Label         string `gorm:"column:label"`
	PublicCertPEM string `gorm:"column:public_cert_pem;not null"`
	Fingerprint   string `gorm:"column:fingerprint;not null"` // SHA-256 over DER, hex
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Certificate) TableName() string { return "certificates" }

// IMAPCredential is the IMAP-side sibling of credential co-issuance.
type IMAPCredential struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	OwnerUserID  string `gorm:"column:owner_user_id;not null"`
	VaultboxID   string `gorm:"column:vaultbox_id;uniqueIndex:idx_imap_cred_vaultbox;not null"`
	Username     string `gorm:"column:username;uniqueIndex:idx_imap_cred_username;not null"`
	PasswordHash string `gorm:"column:password_hash;not null"`
	RevokedAt    *time.Time `gorm:"column:revoked_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (IMAPCredential) TableName() string { return "imap_credentials" }

// SecurityMode is the SMTP submission transport security for a credential.
type SecurityMode string

const (
	SecuritySTARTTLS SecurityMode = "STARTTLS"
	SecurityTLS      SecurityMode = "TLS"
	SecurityPlain    SecurityMode = "PLAIN"
)

// SMTPCredential is the SMTP-submission-side sibling of credential co-issuance.
type SMTPCredential struct {
	ID                string       `gorm:"primaryKey;type:varchar(36)"`
	VaultboxID        string       `gorm:"column:vaultbox_id;uniqueIndex:idx_smtp_cred_vaultbox;not null"`
	Username          string       `gorm:"column:username;uniqueIndex:idx_smtp_cred_username;not null"`
	PasswordHash      string       `gorm:"column:password_hash;not null"`
	Host              string       `gorm:"column:host"`
	Port              int          `gorm:"column:port"`
	SecurityMode      SecurityMode `gorm:"column:security_mode"`
	Enabled           bool         `gorm:"column:enabled;not null;default:true"`
	MessagesSentCount int64        `gorm:"column:messages_sent_count;not null;default:0"`
	LastUsedAt        *time.Time   `gorm:"column:last_used_at"`
	CreatedAt         time.Time    `gorm:"column:created_at;autoCreateTime"`
}

func (SMTPCredential) TableName() string { return "smtp_credentials" }

// MessageStorage describes where and how a delivered message was stored.
type MessageStorage struct {
	MaildirPath string   `json:"maildir_path"`
	Bytes       int64    `json:"bytes"`
	Alg         string   `json:"alg"`
	Recipients  []string `json:"recipients"`
}

// Message is an insert-only record of a delivered (encrypted) message.
type Message struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)"`
	VaultboxID string    `gorm:"column:vaultbox_id;index;not null"`
	FromDomain string    `gorm:"column:from_domain"`
	ToAlias    string    `gorm:"column:to_alias"`
	SizeBytes  int64     `gorm:"column:size_bytes;not null"`
	ReceivedAt time.Time `gorm:"column:received_at;autoCreateTime"`
	Storage    JSONStorage `gorm:"column:storage;type:text"`
}

func (Message) TableName() string { return "messages" }

// Alias is a simple-mailbox receive-only address with no credential.
//
// AliasEmail keeps the local-part casing the caller supplied (the MTA
// route installed for it is case-sensitive on the local-part, per §4.2,
// and route removal re-derives the local-part from this column).
// AliasEmailLower is the lowercased form and carries the unique index:
// §3 requires alias_email to be "globally unique, case-insensitive", so
// the DB-level constraint lives on the normalized column instead of the
// as-entered one.
type Alias struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)"`
	VaultboxID      string    `gorm:"column:vaultbox_id;index;not null"`
	AliasEmail      string    `gorm:"column:alias_email;not null"`
	AliasEmailLower string    `gorm:"column:alias_email_lower;uniqueIndex;not null"`
	Active          bool      `gorm:"column:active;not null;default:true"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Alias) TableName() string { return "aliases" }

// CatchallBinding is the per-domain catch-all rule for simple mailboxes.
type CatchallBinding struct {
	Domain     string `gorm:"primaryKey;column:domain"`
	VaultboxID string `gorm:"column:vaultbox_id;not null"`
	Enabled    bool   `gorm:"column:enabled;not null;default:false"`
}

func (CatchallBinding) TableName() string { return "catchall_bindings" }

// RouteType identifies the kind of entry installed in the MTA transport map.
type RouteType string

const (
	RouteEncryptedIMAP RouteType = "encrypted_imap"
	RouteSimpleIMAP    RouteType = "simple_imap"
	RouteCatchall      RouteType = "catchall"
)

// Route mirrors an entry in the on-disk transport map; it is the audit log,
// the map itself is the source of truth at delivery time.
type Route struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	Domain       string    `gorm:"column:domain"`
	EmailAddress string    `gorm:"column:email_address"`
	VaultboxID   string    `gorm:"column:vaultbox_id;index"`
	RouteType    RouteType `gorm:"column:route_type;not null"`
	Priority     int       `gorm:"column:priority;not null;default:0"`
	Active       bool      `gorm:"column:active;not null;default:true"`
	Options      string    `gorm:"column:options"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Route) TableName() string { return "routes" }
