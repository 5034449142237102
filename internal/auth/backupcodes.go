package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	BackupCodeCount  = 10
	BackupCodeLength = 8

	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateBackupCodes returns count fresh plaintext codes and the hashed
// records to persist for accountID.
func GenerateBackupCodes(accountID string, count int) ([]string, []BackupCode, error) {
	plain := make([]string, 0, count)
	records := make([]BackupCode, 0, count)
	seen := make(map[string]struct{}, count)
	for len(plain) < count {
		code, err := newBackupCode(BackupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: generate backup code: %v", ErrCredential, err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		plain = append(plain, code)
		records = append(records, BackupCode{Hash: HashBackupCode(accountID, code)})
	}
	return plain, records, nil
}

// CanonicalBackupCode upper-cases code and strips spaces and dashes.
func CanonicalBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// HashBackupCode binds a code to its owner so equal codes of different
// accounts never share a hash.
func HashBackupCode(accountID, code string) string {
	canonical := CanonicalBackupCode(code)
	data := make([]byte, 0, len(accountID)+1+len(canonical))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
