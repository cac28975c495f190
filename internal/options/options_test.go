package options

import "testing"

func TestBagPreservesInsertionOrder(t *testing.T) {
	b := New()
	b.Set("z", "1")
	b.Set("a", "2")
	b.Set("m", "3")

	got, err := b.ToJSONString()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"z":"1","a":"2","m":"3"}`
	if got != want {
		t.Fatalf("ToJSONString() = %q, want %q", got, want)
	}
}

func TestBagSetOverwritesWithoutReordering(t *testing.T) {
	b := New()
	b.Set("a", "1")
	b.Set("b", "2")
	b.Set("a", "3")

	got, err := b.ToJSONString()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":"3","b":"2"}`
	if got != want {
		t.Fatalf("ToJSONString() = %q, want %q", got, want)
	}
}

func TestBagGetMissingKey(t *testing.T) {
	b := New()
	if _, ok := b.Get("nope"); ok {
		t.Fatal("expected missing key to report !ok")
	}
}

func TestBagCloneIsIndependent(t *testing.T) {
	b := New()
	b.Set("a", "1")
	clone := b.Clone()
	clone.Set("a", "2")
	clone.Set("b", "3")

	if v, _ := b.Get("a"); v != "1" {
		t.Fatalf("original mutated: a = %q", v)
	}
	if v, _ := clone.Get("a"); v != "2" {
		t.Fatalf("clone a = %q, want 2", v)
	}
	if b.Len() != 1 || clone.Len() != 2 {
		t.Fatalf("lengths = %d, %d, want 1, 2", b.Len(), clone.Len())
	}
}

func TestNilBagToJSONString(t *testing.T) {
	var b *Bag
	got, err := b.ToJSONString()
	if err != nil {
		t.Fatal(err)
	}
	if got != "{}" {
		t.Fatalf("nil bag ToJSONString() = %q, want {}", got)
	}
}
