package model

import "strings"

// EncryptedEnvelope is the wire representation of a protected payload:
// hex-encoded AES-GCM ciphertext plus the IV and authentication tag needed
// to open it. One envelope corresponds to exactly one encrypt call.
type EncryptedEnvelope struct {
	Data    string `json:"data"`
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
}

// Complete reports whether all three envelope fields are present. Inbound
// bodies missing any field are treated as ordinary plaintext JSON.
func (e EncryptedEnvelope) Complete() bool {
	return strings.TrimSpace(e.Data) != "" &&
		strings.TrimSpace(e.IV) != "" &&
		strings.TrimSpace(e.AuthTag) != ""
}
