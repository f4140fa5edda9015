package checksum

import "testing"

func TestOf_SameContentSameFingerprint(t *testing.T) {
	a := Of([]byte("hello\nworld\n"))
	b := Of([]byte("hello\nworld\n"))
	if !a.Equal(b) {
		t.Fatalf("fingerprints differ: %+v vs %+v", a, b)
	}
	if a.Size != 12 {
		t.Errorf("size = %d, want 12", a.Size)
	}
}

func TestOf_ChangedContent(t *testing.T) {
	a := Of([]byte("hello"))
	b := Of([]byte("hellp"))
	if a.Equal(b) {
		t.Fatal("one-character change should change the fingerprint")
	}
	if a.Size != b.Size {
		t.Fatal("sizes should match for same-length content")
	}
}

func TestOf_EmptyContent(t *testing.T) {
	f := Of(nil)
	if f.Size != 0 || f.Hash != Sum([]byte{}) {
		t.Errorf("empty fingerprint = %+v", f)
	}
	if f.Equal(Of([]byte(" "))) {
		t.Error("empty and non-empty content must differ")
	}
}

func TestShort(t *testing.T) {
	if got := Short("abc", 12); len(got) != 12 {
		t.Errorf("len = %d, want 12", len(got))
	}
	if Short("abc", 12) != Sum([]byte("abc"))[:12] {
		t.Error("Short should be a prefix of Sum")
	}
}
