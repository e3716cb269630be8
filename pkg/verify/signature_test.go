package verify_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/mattcburns/fleetupdate/pkg/ferrors"
	"github.com/mattcburns/fleetupdate/pkg/verify"
)

func TestStreamVerifier_RSARoundTrip(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	body := []byte("release payload bytes")

	sig, err := verify.Sign(priv, body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := verify.VerifyBytes(&priv.PublicKey, body, sig); err != nil {
		t.Fatalf("VerifyBytes() = %v, want nil", err)
	}
}

func TestStreamVerifier_ECDSARoundTrip(t *testing.T) {
	t.Parallel()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	body := []byte("release payload bytes")

	sv := verify.NewStreamVerifier(&priv.PublicKey)
	chunks := [][]byte{body[:5], body[5:]}
	for _, c := range chunks {
		if _, err := sv.Write(c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	sig, err := verify.Sign(priv, body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := sv.Verify(sig); err != nil {
		t.Fatalf("Verify() = %v, want nil", err)
	}
}

func TestStreamVerifier_BadSignature(t *testing.T) {
	t.Parallel()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sv := verify.NewStreamVerifier(&priv.PublicKey)
	sv.Write([]byte("data"))

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sig, err := verify.Sign(other, []byte("data"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := sv.Verify(sig); !ferrors.Is(err, ferrors.BadSignature) {
		t.Fatalf("Verify() error = %v, want BadSignature", err)
	}
}

func TestStreamVerifier_MissingSignature(t *testing.T) {
	t.Parallel()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sv := verify.NewStreamVerifier(&priv.PublicKey)
	sv.Write([]byte("data"))

	if err := sv.Verify(""); !ferrors.Is(err, ferrors.MissingSignature) {
		t.Fatalf("Verify() error = %v, want MissingSignature", err)
	}
}

func TestStreamVerifier_NilKeySkipsVerification(t *testing.T) {
	t.Parallel()

	sv := verify.NewStreamVerifier(nil)
	sv.Write([]byte("data"))
	if err := sv.Verify(""); err != nil {
		t.Fatalf("Verify() = %v, want nil when no key is configured", err)
	}
}
