package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cases := []string{
		"Hello",
		"",
		"中文消息内容，含标点。",
		"emoji 🎉🎉 and spaces   ",
		"a very long message " + string(make([]byte, 4096)),
	}

	const senderID uint64 = 42
	for _, plain := range cases {
		enc, err := Encrypt(plain, senderID)
		require.NoError(t, err)

		dec, err := Decrypt(enc, senderID)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	a, err := Encrypt("same text", 7)
	require.NoError(t, err)
	b, err := Encrypt("same text", 7)
	require.NoError(t, err)
	// 随机 nonce，两次密文不应相同
	assert.NotEqual(t, a, b)
}

func TestDecryptWrongSender(t *testing.T) {
	enc, err := Encrypt("secret", 1)
	require.NoError(t, err)

	dec, err := Decrypt(enc, 2)
	require.NoError(t, err)
	assert.NotEqual(t, "secret", dec)
}

func TestDecryptMalformed(t *testing.T) {
	_, err := Decrypt("not-base64!!", 1)
	assert.Error(t, err)

	_, err = Decrypt("c2hvcnQ=", 1) // 合法 base64 但长度不足 nonce
	assert.Error(t, err)
}
