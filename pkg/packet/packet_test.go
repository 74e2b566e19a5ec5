package packet

import "testing"

func TestCRC8ReferenceVector(t *testing.T) {
	// CRC-8/Bluetooth check value for ASCII "123456789": 0x26.
	got := CRC8([]byte("123456789"))
	if got != 0x26 {
		t.Fatalf("CRC8(%q) = 0x%02x, want 0x26", "123456789", got)
	}
}

func TestVerifyFlag(t *testing.T) {
	for b := 0; b < 256; b++ {
		want := b >= 0x20 && b <= 0x26
		if got := VerifyFlag(byte(b)); got != want {
			t.Errorf("VerifyFlag(0x%02x) = %v, want %v", b, got, want)
		}
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	p := New(MethodData, []byte(`{"a":1}`))
	p.SetNodeIdentity("NODE")
	p.Sequence = 42

	buf := Serialize(p)
	if len(buf) != HeaderSize+len(p.Payload) {
		t.Fatalf("serialized length = %d, want %d", len(buf), HeaderSize+len(p.Payload))
	}

	decoded, err := DeserializeHeader(buf[:HeaderSize])
	if err != nil {
		t.Fatalf("DeserializeHeader: %v", err)
	}
	if err := decoded.DeserializePayload(buf[HeaderSize:]); err != nil {
		t.Fatalf("DeserializePayload: %v", err)
	}

	if decoded.Method != p.Method {
		t.Errorf("Method = %v, want %v", decoded.Method, p.Method)
	}
	if decoded.NodeIdentity != p.NodeIdentity {
		t.Errorf("NodeIdentity = %v, want %v", decoded.NodeIdentity, p.NodeIdentity)
	}
	if decoded.Sequence != p.Sequence {
		t.Errorf("Sequence = %d, want %d", decoded.Sequence, p.Sequence)
	}
	if decoded.Checksum != p.Checksum {
		t.Errorf("Checksum = %d, want %d", decoded.Checksum, p.Checksum)
	}
	if string(decoded.Payload) != string(p.Payload) {
		t.Errorf("Payload = %q, want %q", decoded.Payload, p.Payload)
	}
	if !VerifyGoodPacket(decoded) {
		t.Error("VerifyGoodPacket = false, want true")
	}
}

func TestVerifyGoodPacketDetectsCorruption(t *testing.T) {
	p := New(MethodInfo, []byte(`{"ok":true}`))
	buf := Serialize(p)
	buf[HeaderSize] ^= 0xFF // flip one payload byte

	decoded, err := DeserializeHeader(buf[:HeaderSize])
	if err != nil {
		t.Fatalf("DeserializeHeader: %v", err)
	}
	if err := decoded.DeserializePayload(buf[HeaderSize:]); err != nil {
		t.Fatalf("DeserializePayload: %v", err)
	}

	if VerifyGoodPacket(decoded) {
		t.Error("VerifyGoodPacket = true for corrupted payload, want false")
	}
}

func TestVerifyGoodPacketRejectsUnknownMethod(t *testing.T) {
	p := New(MethodInfo, []byte("{}"))
	buf := Serialize(p)
	buf[0] = 0x00

	decoded, err := DeserializeHeader(buf[:HeaderSize])
	if err != nil {
		t.Fatalf("DeserializeHeader: %v", err)
	}
	if err := decoded.DeserializePayload(buf[HeaderSize:]); err != nil {
		t.Fatalf("DeserializePayload: %v", err)
	}
	if VerifyGoodPacket(decoded) {
		t.Error("VerifyGoodPacket = true for unrecognised method, want false")
	}
}

func TestMethodTracked(t *testing.T) {
	tracked := []Method{MethodData, MethodCommand, MethodInfo, MethodDebug, MethodError}
	for _, m := range tracked {
		if !m.Tracked() {
			t.Errorf("%v.Tracked() = false, want true", m)
		}
	}
	untracked := []Method{MethodACK, MethodHeartbeat}
	for _, m := range untracked {
		if m.Tracked() {
			t.Errorf("%v.Tracked() = true, want false", m)
		}
	}
}
