package security

import "testing"

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event":"payout.completed"}`)
	sig := Sign("s3cret", body)

	if !Verify("s3cret", body, sig) {
		t.Fatalf("signature did not verify")
	}
	if Verify("other", body, sig) {
		t.Errorf("signature verified under the wrong secret")
	}
	if Verify("s3cret", []byte(`{"event":"payout.failed"}`), sig) {
		t.Errorf("signature verified for a different body")
	}
	if Verify("s3cret", body, "not-hex") {
		t.Errorf("malformed signature verified")
	}
}

func TestFingerprintIsUnambiguous(t *testing.T) {
	a := Fingerprint([]byte("ab"), []byte("c"))
	b := Fingerprint([]byte("a"), []byte("bc"))
	if a == b {
		t.Errorf("fingerprints collide across part boundaries")
	}
	if a != Fingerprint([]byte("ab"), []byte("c")) {
		t.Errorf("fingerprint is not deterministic")
	}
}
