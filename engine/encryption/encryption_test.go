// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package encryption_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testrand"

	"carewire.io/carewire/engine/encryption"
)

func TestAESGCMRoundTrip(t *testing.T) {
	enc, err := encryption.NewAESGCM(testrand.BytesInt(32))
	require.NoError(t, err)
	require.True(t, enc.Enabled())

	for _, plaintext := range [][]byte{
		[]byte(""),
		[]byte("MSH|^~\\&|SENDER|FAC|RCV|FAC|20260101||ADT^A01|1|P|2.3"),
		testrand.BytesInt(64 * 1024),
	} {
		stored, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		require.Contains(t, stored, ":")

		decrypted, err := enc.Decrypt(stored)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	}
}

func TestAESGCMNonceUnique(t *testing.T) {
	enc, err := encryption.NewAESGCM(testrand.BytesInt(16))
	require.NoError(t, err)

	a, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	// both still decrypt
	pa, err := enc.Decrypt(a)
	require.NoError(t, err)
	pb, err := enc.Decrypt(b)
	require.NoError(t, err)
	require.Equal(t, pa, pb)
}

func TestAESGCMRejectsTampering(t *testing.T) {
	enc, err := encryption.NewAESGCM(testrand.BytesInt(32))
	require.NoError(t, err)

	stored, err := enc.Encrypt([]byte("payload"))
	require.NoError(t, err)

	tampered := []byte(stored)
	i := len(tampered) - 3
	if tampered[i] == 'A' {
		tampered[i] = 'B'
	} else {
		tampered[i] = 'A'
	}
	_, err = enc.Decrypt(string(tampered))
	require.Error(t, err)

	_, err = enc.Decrypt("no-separator")
	require.Error(t, err)
}

func TestAESGCMKeySizes(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		_, err := encryption.NewAESGCM(testrand.BytesInt(size))
		require.NoError(t, err)
	}
	_, err := encryption.NewAESGCM(testrand.BytesInt(17))
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	enc := encryption.Noop{}
	require.False(t, enc.Enabled())

	stored, err := enc.Encrypt([]byte("as-is"))
	require.NoError(t, err)
	require.Equal(t, "as-is", stored)

	plaintext, err := enc.Decrypt(stored)
	require.NoError(t, err)
	require.Equal(t, []byte("as-is"), plaintext)
}
