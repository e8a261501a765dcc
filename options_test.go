package shrike

import "testing"

func TestOptionDistinguishesUnsetFromZero(t *testing.T) {
	var unset Option[int]
	if unset.IsSet() {
		t.Error("zero Option reports IsSet")
	}
	if got := unset.Or(25); got != 25 {
		t.Errorf("unset.Or(25) = %d", got)
	}

	explicitZero := Some(0)
	if !explicitZero.IsSet() {
		t.Error("Some(0) reports unset")
	}
	if got := explicitZero.Or(25); got != 0 {
		t.Errorf("Some(0).Or(25) = %d, want the explicit 0", got)
	}
}
