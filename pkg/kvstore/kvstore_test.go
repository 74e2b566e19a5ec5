package kvstore

import (
	"errors"
	"testing"
)

type fakeHashClient struct {
	data map[string]string
}

func newFakeHashClient() *fakeHashClient {
	return &fakeHashClient{data: make(map[string]string)}
}

func (f *fakeHashClient) WriteString(key, field, value string) error {
	f.data[field] = value
	return nil
}

func (f *fakeHashClient) GetString(key, field string) (string, error) {
	v, ok := f.data[field]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (f *fakeHashClient) HDel(key, field string) (int64, error) {
	if _, ok := f.data[field]; !ok {
		return 0, nil
	}
	delete(f.data, field)
	return 1, nil
}

func TestSetThenGetRoundTrips(t *testing.T) {
	client := newFakeHashClient()
	s := NewRedisStore(client)

	if err := s.Set("profile1", `{"ssid":"home"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, ok, err := s.Get("profile1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get ok = false, want true for a set key")
	}
	if val != `{"ssid":"home"}` {
		t.Errorf("value = %q, want the stored profile", val)
	}
}

func TestGetMissingKeyReportsNotOk(t *testing.T) {
	s := NewRedisStore(newFakeHashClient())

	_, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("ok = true for a key that was never set")
	}
}

func TestDestroyRemovesKey(t *testing.T) {
	client := newFakeHashClient()
	s := NewRedisStore(client)
	_ = s.Set("profile1", "x")

	if err := s.Destroy("profile1"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, ok, _ := s.Get("profile1"); ok {
		t.Error("key still readable after Destroy")
	}
}

func TestDestroyMissingKeyIsNotAnError(t *testing.T) {
	s := NewRedisStore(newFakeHashClient())
	if err := s.Destroy("never-set"); err != nil {
		t.Fatalf("Destroy of an absent key returned an error: %v", err)
	}
}
