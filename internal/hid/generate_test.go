package hid

import (
	"crypto/elliptic"
	"testing"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/stretchr/testify/require"
)

func TestGenerateRSAInsertsRoundTrippableEntry(t *testing.T) {
	s := New()
	e, err := s.GenerateRSA(2048, "rsa.example", false)
	require.NoError(t, err)

	got, ok := s.Lookup(e.HIT, hipcrypto.SignRSA)
	require.True(t, ok)
	require.Equal(t, e.HIT, got.HIT)

	digest := []byte("trigger-bex-I1-payload")
	sig, err := e.Signer.Sign(digest)
	require.NoError(t, err)
	require.NoError(t, e.Verifier.Verify(digest, sig))
}

func TestGenerateECDSAInsertsRoundTrippableEntry(t *testing.T) {
	s := New()
	e, err := s.GenerateECDSA(elliptic.P256(), "ecdsa.example", false)
	require.NoError(t, err)
	require.Equal(t, hipcrypto.SignECDSA256, e.Algo)

	digest := []byte("trigger-bex-I1-payload")
	sig, err := e.Signer.Sign(digest)
	require.NoError(t, err)
	require.NoError(t, e.Verifier.Verify(digest, sig))
}

func TestGenerateDefaultHITPrefersECDSA(t *testing.T) {
	s := New()
	_, err := s.GenerateRSA(2048, "rsa.example", false)
	require.NoError(t, err)
	ecdsaEntry, err := s.GenerateECDSA(elliptic.P384(), "ecdsa.example", false)
	require.NoError(t, err)

	hit, ok := s.DefaultHIT()
	require.True(t, ok)
	require.Equal(t, ecdsaEntry.HIT, hit)
}
