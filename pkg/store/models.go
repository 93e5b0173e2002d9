package store

import "time"

// Client is the GORM model for the clients table (§6.4): id char16 pk,
// name char255 (unique), public_key char160, last_seen timestamp, aes_key
// char128. ID is stored as the lowercase hex rendering of the 16-byte
// UUID so it is usable directly as a GORM primary key and as the
// client's storage-directory name (§6.3).
type Client struct {
	ID        string    `gorm:"column:id;primaryKey;size:32"`
	Name      string    `gorm:"column:name;size:255;uniqueIndex"`
	PublicKey []byte    `gorm:"column:public_key;size:160"`
	AESKey    []byte    `gorm:"column:aes_key;size:16"`
	LastSeen  time.Time `gorm:"column:last_seen"`
}

// TableName pins the table name so it matches §6.4 regardless of GORM's
// default pluralization rules.
func (Client) TableName() string { return "clients" }

// File is the GORM model for the files table (§6.4): composite key
// (client_id, file_name), file_path, verified bit.
type File struct {
	ID       uint   `gorm:"column:id;primaryKey;autoIncrement"`
	ClientID string `gorm:"column:client_id;size:32;uniqueIndex:idx_client_file"`
	FileName string `gorm:"column:file_name;size:255;uniqueIndex:idx_client_file"`
	FilePath string `gorm:"column:file_path;size:255"`
	Verified bool   `gorm:"column:verified"`
}

// TableName pins the table name so it matches §6.4.
func (File) TableName() string { return "files" }

// AllModels returns every GORM model for auto-migration.
func AllModels() []any {
	return []any{
		&Client{},
		&File{},
	}
}
