package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprintDeterministicAcrossKeyOrder(t *testing.T) {
	a := map[string]interface{}{
		"zebra": 1,
		"alpha": map[string]interface{}{"y": 2, "x": 1},
	}
	b := map[string]interface{}{
		"alpha": map[string]interface{}{"x": 1, "y": 2},
		"zebra": 1,
	}
	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := Fingerprint(b)
	if err != nil {
		t.Fatal(err)
	}
	if fa != fb {
		t.Errorf("fingerprints differ for identical structures: %s != %s", fa, fb)
	}
}

func TestFingerprintIntAndWholeFloatEqual(t *testing.T) {
	asInt, err := Fingerprint(map[string]interface{}{"size_x": 20})
	if err != nil {
		t.Fatal(err)
	}
	asFloat, err := Fingerprint(map[string]interface{}{"size_x": 20.0})
	if err != nil {
		t.Fatal(err)
	}
	if asInt != asFloat {
		t.Error("20 and 20.0 fingerprint differently")
	}
}

func TestFingerprintFloatRounding(t *testing.T) {
	a, _ := Fingerprint(map[string]interface{}{"x": 1.0000001})
	b, _ := Fingerprint(map[string]interface{}{"x": 1.0000002})
	if a != b {
		t.Error("values equal at 6 decimal places fingerprint differently")
	}
	c, _ := Fingerprint(map[string]interface{}{"x": 1.000001})
	d, _ := Fingerprint(map[string]interface{}{"x": 1.000002})
	if c == d {
		t.Error("distinct values at 6 decimal places fingerprint identically")
	}
}

func TestFingerprintLeafChange(t *testing.T) {
	base := map[string]interface{}{
		"docking": map[string]interface{}{"center_x": 0.0, "size_x": 20.0},
	}
	changed := map[string]interface{}{
		"docking": map[string]interface{}{"center_x": 0.5, "size_x": 20.0},
	}
	fa, _ := Fingerprint(base)
	fb, _ := Fingerprint(changed)
	if fa == fb {
		t.Error("leaf change did not change fingerprint")
	}
}

func TestFingerprintRejectsUnsupportedType(t *testing.T) {
	_, err := Fingerprint(map[string]interface{}{"ch": make(chan int)})
	if err == nil {
		t.Error("unsupported type accepted")
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{20.0, "20"},
		{0.0, "0"},
		{3.5, "3.5"},
		{1.23456789, "1.234568"},
		{-7.0, "-7"},
	}
	for _, tt := range tests {
		if got := formatFloat(tt.in); got != tt.want {
			t.Errorf("formatFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSHA1File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receptor.pdbqt")
	if err := os.WriteFile(path, []byte("ATOM\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := SHA1File(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := SHA1File(path)
	if err != nil {
		t.Fatal(err)
	}
	if a != b || len(a) != 40 {
		t.Errorf("unstable or malformed digest: %q / %q", a, b)
	}

	if err := os.WriteFile(path, []byte("ATOM  changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, _ := SHA1File(path)
	if c == a {
		t.Error("digest unchanged after content change")
	}
}
