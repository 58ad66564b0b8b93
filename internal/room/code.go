package room

import (
	"crypto/rand"
	"math/big"

	"github.com/koopa0/system-design/14-realtime-pong/internal/protocol"
)

// CodeGenerator 產生房間碼
type CodeGenerator func() (string, error)

// GenerateCode 以 crypto/rand 產生 6 碼房間碼
func GenerateCode() (string, error) {
	alphabet := protocol.CodeAlphabet
	limit := big.NewInt(int64(len(alphabet)))

	b := make([]byte, protocol.CodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}
