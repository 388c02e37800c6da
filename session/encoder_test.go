package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func testBundle() Bundle {
	return Bundle{
		AccessToken:  "access.jwt.value",
		RefreshToken: "opaque-refresh",
		ExpiresAt:    1700003600,
		Principal:    Principal{ID: "u-1", Email: "u@example.com"},
	}
}

func TestDecodeReadsVersionOneWithoutEmail(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(bundleFormatVersionV1)
	for _, s := range []string{"a", "r"} {
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(s)))
		buf.WriteString(s)
	}
	_ = binary.Write(&buf, binary.BigEndian, int64(42))
	buf.WriteByte(2)
	buf.WriteString("u1")

	b, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode v1: %v", err)
	}
	if b.AccessToken != "a" || b.RefreshToken != "r" || b.ExpiresAt != 42 || b.Principal.ID != "u1" {
		t.Fatalf("unexpected bundle %+v", b)
	}
	if b.Principal.Email != "" {
		t.Fatalf("expected empty email for v1, got %q", b.Principal.Email)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := Encode(testBundle())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data = append(data, 0x00)
	if _, err := Decode(data); !errors.Is(err, ErrCorruptBundle) {
		t.Fatalf("expected corrupt bundle, got %v", err)
	}
}

func TestEncodeRejectsOversizedPrincipal(t *testing.T) {
	b := testBundle()
	b.Principal.Email = string(make([]byte, 300))
	if _, err := Encode(b); err == nil {
		t.Fatal("expected oversized email to be rejected")
	}
}

func FuzzBundleDecode(f *testing.F) {
	encoded, err := Encode(testBundle())
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:len(encoded)/2])
	}
	f.Add([]byte{})
	f.Add([]byte{bundleFormatVersionCurrent})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		b, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(b)
		if err != nil {
			t.Fatalf("re-encode of decoded bundle failed: %v", err)
		}
		if _, err := Decode(again); err != nil {
			t.Fatalf("decode of re-encoded bundle failed: %v", err)
		}
	})
}
