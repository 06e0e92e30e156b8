package passphrase

import "testing"

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("JOBD_TEST_PASSPHRASE", "correct horse")
	src := NewSource("JOBD_TEST_PASSPHRASE")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("JOBD_TEST_PASSPHRASE", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("JOBD_TEST_PASSPHRASE", "   ")
	if _, err := NewSource("JOBD_TEST_PASSPHRASE").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}
