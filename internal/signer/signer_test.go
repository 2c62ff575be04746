package signer

import "testing"

func TestSignThenVerifyRoundTrips(t *testing.T) {
	priv, err := GeneratePrivateKeyHex()
	if err != nil {
		t.Fatalf("GeneratePrivateKeyHex: %v", err)
	}
	s, err := NewLocalSigner(priv)
	if err != nil {
		t.Fatalf("NewLocalSigner: %v", err)
	}

	data := []byte(`{"type":"ping","payload":{}}`)
	sig, err := s.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := (DefaultVerifier{}).Verify(s.PublicKey(), data, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	priv, _ := GeneratePrivateKeyHex()
	s, err := NewLocalSigner(priv)
	if err != nil {
		t.Fatalf("NewLocalSigner: %v", err)
	}

	sig, err := s.Sign([]byte("original"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := (DefaultVerifier{}).Verify(s.PublicKey(), []byte("tampered"), sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected tampered data to fail verification")
	}
}

func TestVerifyRejectsWrongPublicKey(t *testing.T) {
	privA, _ := GeneratePrivateKeyHex()
	privB, _ := GeneratePrivateKeyHex()
	a, err := NewLocalSigner(privA)
	if err != nil {
		t.Fatalf("NewLocalSigner a: %v", err)
	}
	b, err := NewLocalSigner(privB)
	if err != nil {
		t.Fatalf("NewLocalSigner b: %v", err)
	}

	data := []byte("hello")
	sig, err := a.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := (DefaultVerifier{}).Verify(b.PublicKey(), data, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected verification under the wrong public key to fail")
	}
}

func TestNewLocalSignerRejectsInvalidHex(t *testing.T) {
	if _, err := NewLocalSigner("not-hex"); err == nil {
		t.Fatalf("expected error for invalid private key hex")
	}
	if _, err := NewLocalSigner("abcd"); err == nil {
		t.Fatalf("expected error for short private key")
	}
}
