package jsonx

import "testing"

type patch struct {
	M0       *float64 `json:"M0"`
	Interval *float64 `json:"interval"`
}

func TestDecodeForms(t *testing.T) {
	var p patch
	if err := Decode(`{"M0": -16.5}`, &p); err != nil || p.M0 == nil || *p.M0 != -16.5 {
		t.Fatalf("string: %+v %v", p, err)
	}
	p = patch{}
	if err := Decode([]byte(`{"interval": 5}`), &p); err != nil || p.Interval == nil || *p.Interval != 5 {
		t.Fatalf("bytes: %+v %v", p, err)
	}
	p = patch{}
	if err := Decode(map[string]any{"M0": 1.5}, &p); err != nil || p.M0 == nil || *p.M0 != 1.5 {
		t.Fatalf("map: %+v %v", p, err)
	}
	v := 2.0
	var q patch
	if err := Decode(patch{M0: &v}, &q); err != nil || q.M0 != &v {
		t.Fatalf("typed: %+v %v", q, err)
	}
	if err := Decode(`{"M0": "x"}`, &p); err == nil {
		t.Fatal("bad type accepted")
	}
}
