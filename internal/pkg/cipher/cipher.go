// Package cipher 实现消息内容的对称混淆编码。
// 密钥仅由发送者 ID 派生，没有任何密钥交换，属于尽力而为的防窥视手段，
// 不是端到端加密方案。
package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
)

const keyPepper = "atrium/message/v1:"

// deriveKey 由发送者 ID 派生 256 位对称密钥
func deriveKey(senderID uint64) []byte {
	sum := sha256.Sum256([]byte(keyPepper + strconv.FormatUint(senderID, 10)))
	return sum[:]
}

// Encrypt 加密明文，输出 base64(nonce || ciphertext)
func Encrypt(plaintext string, senderID uint64) (string, error) {
	nonce := make([]byte, chacha20.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}

	c, err := chacha20.NewUnauthenticatedCipher(deriveKey(senderID), nonce)
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}

	buf := make([]byte, len(plaintext))
	c.XORKeyStream(buf, []byte(plaintext))

	out := make([]byte, 0, len(nonce)+len(buf))
	out = append(out, nonce...)
	out = append(out, buf...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt 解密 Encrypt 的输出
func Decrypt(ciphertext string, senderID uint64) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}
	if len(raw) < chacha20.NonceSizeX {
		return "", errors.New("ciphertext too short")
	}

	nonce := raw[:chacha20.NonceSizeX]
	body := raw[chacha20.NonceSizeX:]

	c, err := chacha20.NewUnauthenticatedCipher(deriveKey(senderID), nonce)
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}

	buf := make([]byte, len(body))
	c.XORKeyStream(buf, body)
	return string(buf), nil
}
