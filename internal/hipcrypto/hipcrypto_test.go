package hipcrypto

import (
	"crypto/dsa" //nolint:staticcheck
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"math/big"
	"testing"

	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestDHSharedSecretSymmetric(t *testing.T) {
	a, err := GenerateDH(GroupModp1536)
	require.NoError(t, err)
	b, err := GenerateDH(GroupModp1536)
	require.NoError(t, err)

	sa, err := a.SharedSecret(b.PublicBytes())
	require.NoError(t, err)
	sb, err := b.SharedSecret(a.PublicBytes())
	require.NoError(t, err)
	require.Equal(t, sa, sb)
	require.Len(t, sa, a.Group.KeySize)
}

func TestDHRejectsDegeneratePeerValue(t *testing.T) {
	a, err := GenerateDH(GroupModp1536)
	require.NoError(t, err)
	_, err = a.SharedSecret([]byte{1})
	require.Error(t, err)
	_, err = a.SharedSecret(a.Group.Prime.Bytes())
	require.Error(t, err)
}

func TestECDHSharedSecretSymmetric(t *testing.T) {
	a, err := GenerateECDH(GroupNISTP256)
	require.NoError(t, err)
	b, err := GenerateECDH(GroupNISTP256)
	require.NoError(t, err)

	sa, err := a.SharedSecret(b.PublicBytes())
	require.NoError(t, err)
	sb, err := b.SharedSecret(a.PublicBytes())
	require.NoError(t, err)
	require.Equal(t, sa, sb)
}

func TestGroupNegotiationRejectsDowngrade(t *testing.T) {
	ourPref := []GroupID{GroupNISTP384, GroupModp3072, GroupNISTP256}
	peerSupported := map[GroupID]bool{GroupNISTP384: true, GroupNISTP256: true}

	err := CheckNoDowngrade(ourPref, peerSupported, GroupNISTP256)
	require.Error(t, err)

	err = CheckNoDowngrade(ourPref, peerSupported, GroupNISTP384)
	require.NoError(t, err)
}

func TestRSASignVerifyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	signer := &RSASigner{Key: key}
	verifier := &RSAVerifier{Key: &key.PublicKey}

	msg := []byte("I2 signed content")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, verifier.Verify(msg, sig))
	require.Error(t, verifier.Verify([]byte("tampered"), sig))
}

func TestDSASignVerifyFixedWidthEvenWithLeadingZero(t *testing.T) {
	var params dsa.Parameters
	require.NoError(t, dsa.GenerateParameters(&params, rand.Reader, dsa.L1024N160))
	var priv dsa.PrivateKey
	priv.Parameters = params
	require.NoError(t, dsa.GenerateKey(&priv, rand.Reader))

	signer := &DSASigner{Key: &priv}
	verifier := &DSAVerifier{Key: &priv.PublicKey}

	// Regression: force r to have a leading zero byte when encoded at
	// full width, reproducing the scenario that used to intermittently
	// truncate the SIGNATURE parameter by one byte.
	forced := make([]byte, dsaQSizeBytes)
	forced[0] = 0x00
	for i := 1; i < dsaQSizeBytes; i++ {
		forced[i] = 0xAB
	}
	r := new(big.Int).SetBytes(forced)
	s, err := rand.Int(rand.Reader, priv.Q)
	require.NoError(t, err)

	out := make([]byte, 1+2*dsaQSizeBytes)
	copy(out[1:1+dsaQSizeBytes], leftPad(r.Bytes(), dsaQSizeBytes))
	copy(out[1+dsaQSizeBytes:], leftPad(s.Bytes(), dsaQSizeBytes))
	require.Len(t, out, 1+2*dsaQSizeBytes, "fixed-width encoding must not shrink when r has a leading zero byte")

	msg := []byte("I2 signed content")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, 1+2*dsaQSizeBytes)
	require.NoError(t, verifier.Verify(msg, sig))
}

func TestECDSASignVerifyRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	signer := NewECDSASigner(key, SignECDSA256)
	verifier := NewECDSAVerifier(&key.PublicKey, SignECDSA256)

	msg := []byte("R1 signed content")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, 64)
	require.NoError(t, verifier.Verify(msg, sig))
	require.Error(t, verifier.Verify([]byte("tampered"), sig))
}

func TestPadUnpadRoundTrip(t *testing.T) {
	data := []byte("hello world")
	padded := Pad(TransformAESCBC, data)
	require.Equal(t, 0, len(padded)%16)
	unpadded, err := Unpad(padded)
	require.NoError(t, err)
	require.Equal(t, data, unpadded)
}

func TestEncryptDecryptCBCRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)
	plaintext := Pad(TransformAESCBC, []byte("ENCRYPTED parameter contents"))

	ct, err := EncryptCBC(TransformAESCBC, key, plaintext)
	require.NoError(t, err)
	pt, err := DecryptCBC(TransformAESCBC, key, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestKeymatDerivationSymmetricAndOrdered(t *testing.T) {
	kij := []byte("shared-dh-secret")
	hitI := wire.HIT{0x01}
	hitR := wire.HIT{0x02}
	i := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	j := []byte{8, 7, 6, 5, 4, 3, 2, 1}

	lens := KeyLengths{HIPEncBytes: 16, HIPAuthBytes: 20, ESPEncBytes: 16, ESPAuthBytes: 20}

	kmI := NewKeymat(kij, hitI, hitR, i, j)
	keysI := DeriveAll(kmI, lens)

	kmR := NewKeymat(kij, hitI, hitR, i, j)
	keysR := DeriveAll(kmR, lens)

	for _, kind := range []KeymatKind{KeyHIPEncGL, KeyHIPAuthGL, KeyHIPEncLG, KeyHIPAuthLG, KeyESPEncGL, KeyESPAuthGL, KeyESPEncLG, KeyESPAuthLG} {
		require.Equal(t, keysI[kind], keysR[kind], "kind %d must match between independent derivations", kind)
	}
	require.NotEqual(t, keysI[KeyHIPEncGL], keysI[KeyHIPEncLG])
}

func TestHashChainStepVerification(t *testing.T) {
	seed := []byte("chain-seed-material")
	chain, err := GenerateHashChain(seed, 8)
	require.NoError(t, err)

	anchor := chain.Anchor()
	elem3, err := chain.Element(3)
	require.NoError(t, err)

	require.True(t, VerifyHashChainStep(elem3, 3, anchor))
	require.False(t, VerifyHashChainStep(elem3, 2, anchor))

	tampered := append([]byte{}, elem3...)
	tampered[0] ^= 0xFF
	require.False(t, VerifyHashChainStep(tampered, 3, anchor))
}

func TestHashTreePathVerification(t *testing.T) {
	leaves := make([][]byte, 8)
	for i := range leaves {
		leaves[i] = []byte{byte(i), byte(i + 1), byte(i + 2)}
	}
	tree, err := BuildHashTree(leaves)
	require.NoError(t, err)

	path, err := tree.Path(5)
	require.NoError(t, err)
	require.True(t, VerifyHashTreePath(leaves[5], 5, path, tree.Root()))

	wrongPath, err := tree.Path(2)
	require.NoError(t, err)
	require.False(t, VerifyHashTreePath(leaves[5], 5, wrongPath, tree.Root()))
}
