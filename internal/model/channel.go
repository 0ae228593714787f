package model

// Channel is a LINE channel registration as stored. The token and secret are
// base64 AES-GCM ciphertexts.
type Channel struct {
	ChannelID                   string  `db:"channel_id"`
	Name                        string  `db:"name"`
	BranchID                    *string `db:"branch_id"`
	EncryptedChannelAccessToken string  `db:"channel_access_token"`
	EncryptedChannelSecret      string  `db:"channel_secret"`
	IsDefault                   bool    `db:"is_default"`
	IsActive                    bool    `db:"is_active"`
}

// ChannelCredentials are decrypted credentials ready for sending.
type ChannelCredentials struct {
	ChannelID          string
	ChannelAccessToken string
	ChannelSecret      string
}
