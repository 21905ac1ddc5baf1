package zipfs

import (
	"crypto/hmac"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// classicEncrypt mirrors decryptByte's update rule but runs it forward from
// known plaintext, the way a real PKWARE-encrypting zip tool would, so
// tests can build a ciphertext fixture without needing one on disk.
func classicEncrypt(password []byte, plaintext []byte) []byte {
	c := newClassicCipher(password)
	out := make([]byte, len(plaintext))
	for i, pt := range plaintext {
		out[i] = pt ^ c.keystreamByte()
		c.update(pt)
	}
	return out
}

func TestClassicCipher_DecryptIsEncryptInverse(t *testing.T) {
	password := []byte("hunter2")
	plaintext := []byte("0123456789ab")

	ct := classicEncrypt(password, plaintext)

	c := newClassicCipher(password)
	got := append([]byte(nil), ct...)
	c.decrypt(got)

	assert.Equal(t, plaintext, got)
}

func TestVerifyClassicHeader_SuccessWithCRCCheckByte(t *testing.T) {
	password := []byte("hunter2")
	crc := uint32(0xdeadbeef)

	plainHeader := [classicHeaderLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, byte(crc >> 24)}
	ct := classicEncrypt(password, plainHeader[:])

	var header [classicHeaderLen]byte
	copy(header[:], ct)

	c, err := verifyClassicHeader(password, header, 0, crc, 0)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestVerifyClassicHeader_SuccessWithDataDescriptorCheckByte(t *testing.T) {
	password := []byte("hunter2")
	dosTime := uint16(0x5A3C)
	const bit3DataDescriptor = 0x08

	plainHeader := [classicHeaderLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, byte(dosTime >> 8)}
	ct := classicEncrypt(password, plainHeader[:])

	var header [classicHeaderLen]byte
	copy(header[:], ct)

	_, err := verifyClassicHeader(password, header, bit3DataDescriptor, 0, dosTime)
	require.NoError(t, err)
}

func TestVerifyClassicHeader_TamperedHeaderFailsBadPassword(t *testing.T) {
	password := []byte("hunter2")
	crc := uint32(0xdeadbeef)

	plainHeader := [classicHeaderLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, byte(crc >> 24)}
	ct := classicEncrypt(password, plainHeader[:])
	ct[classicHeaderLen-1] ^= 0xff // flips the decrypted check byte deterministically

	var header [classicHeaderLen]byte
	copy(header[:], ct)

	_, err := verifyClassicHeader(password, header, 0, crc, 0)
	require.Error(t, err)
	assert.True(t, IsBadPassword(err))
}

func TestDeriveAESKeys_ProducesExpectedLengths(t *testing.T) {
	password := []byte("correct horse battery staple")
	salt := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	for _, strength := range []aesKeyStrength{aes128, aes192, aes256} {
		encKey, macKey, verify := deriveAESKeys(password, salt, strength)
		assert.Len(t, encKey, strength.keyLen())
		assert.Len(t, macKey, strength.keyLen())
		assert.Len(t, verify, aesVerifyLen)
	}
}

func TestDeriveAESKeys_DifferentSaltsDiffer(t *testing.T) {
	password := []byte("correct horse battery staple")
	enc1, _, verify1 := deriveAESKeys(password, []byte{1, 2, 3, 4, 5, 6, 7, 8}, aes256)
	enc2, _, verify2 := deriveAESKeys(password, []byte{8, 7, 6, 5, 4, 3, 2, 1}, aes256)

	assert.NotEqual(t, enc1, enc2)
	assert.NotEqual(t, verify1, verify2)
}

func TestAESCipher_DecryptIsSelfInverseAtSameBlock(t *testing.T) {
	encKey, _, _ := deriveAESKeys([]byte("password"), []byte{1, 2, 3, 4, 5, 6, 7, 8}, aes256)

	plain := []byte("this is exactly two full 16B blocks of data!!!!")
	require.Len(t, plain, 48)

	enc, err := newAESCipher(encKey)
	require.NoError(t, err)
	enc.seekBlock(0)
	cipherText := append([]byte(nil), plain...)
	enc.decrypt(cipherText)
	assert.NotEqual(t, plain, cipherText)

	dec, err := newAESCipher(encKey)
	require.NoError(t, err)
	dec.seekBlock(0)
	roundTripped := append([]byte(nil), cipherText...)
	dec.decrypt(roundTripped)
	assert.Equal(t, plain, roundTripped)
}

func TestAESCipher_SeekBlockIsDeterministic(t *testing.T) {
	encKey, _, _ := deriveAESKeys([]byte("password"), []byte{1, 2, 3, 4, 5, 6, 7, 8}, aes128)
	block := []byte("0123456789abcdef")

	c1, err := newAESCipher(encKey)
	require.NoError(t, err)
	c1.seekBlock(3)
	out1 := append([]byte(nil), block...)
	c1.decrypt(out1)

	c2, err := newAESCipher(encKey)
	require.NoError(t, err)
	c2.seekBlock(3)
	out2 := append([]byte(nil), block...)
	c2.decrypt(out2)

	assert.Equal(t, out1, out2, "seeking to the same block index must reproduce the same keystream")
}

func TestVerifyAESMAC(t *testing.T) {
	macKey := []byte("0123456789abcdef0123456789abcdef")
	ciphertext := []byte("some encrypted payload bytes")

	h := hmac.New(sha1.New, macKey)
	h.Write(ciphertext)
	sum := h.Sum(nil)

	assert.True(t, verifyAESMAC(macKey, ciphertext, sum[:aesMACLen]))

	tampered := append([]byte(nil), sum[:aesMACLen]...)
	tampered[0] ^= 0xff
	assert.False(t, verifyAESMAC(macKey, ciphertext, tampered))
}
