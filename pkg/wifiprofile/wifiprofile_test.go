package wifiprofile

import "testing"

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (s *fakeStore) Get(key string) (string, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Set(key, value string) error {
	s.data[key] = value
	return nil
}

func (s *fakeStore) Destroy(key string) error {
	delete(s.data, key)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	m, err := New(store, BuildProfile{SSID: "build-ssid", Password: "build-pw", ClientIP: "192.168.0.1", ClientPort: 8080})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, store
}

func TestNewSeedsPrimaryBuildProfile(t *testing.T) {
	m, _ := newTestManager(t)

	c, ok := m.ReadProfile(PrimaryWifiKey)
	if !ok {
		t.Fatal("primary build profile was not seeded")
	}
	if c.SSID != "build-ssid" || c.ClientPort != 8080 {
		t.Errorf("seeded profile = %+v, want the build defaults", c)
	}
}

func TestPrimaryBuildProfileIsSelectableAndListed(t *testing.T) {
	m, _ := newTestManager(t)

	all, err := m.ReadAllProfiles()
	if err != nil {
		t.Fatalf("ReadAllProfiles: %v", err)
	}
	if len(all) != 1 || all[0].Key != PrimaryWifiKey {
		t.Fatalf("ReadAllProfiles = %+v, want just [%s]", all, PrimaryWifiKey)
	}

	ok, err := m.SelectActiveProfile(PrimaryWifiKey)
	if err != nil {
		t.Fatalf("SelectActiveProfile: %v", err)
	}
	if !ok {
		t.Fatal("SelectActiveProfile = false for the build-time primary profile")
	}
}

func TestCreateProfileThenReadAndList(t *testing.T) {
	m, _ := newTestManager(t)

	ok, err := m.CreateProfile("home", Credentials{SSID: "home-net", Password: "pw", ClientIP: "10.0.0.1", ClientPort: 9000})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if !ok {
		t.Fatal("CreateProfile = false, want true for a new key")
	}

	c, ok := m.ReadProfile("home")
	if !ok || c.SSID != "home-net" {
		t.Fatalf("ReadProfile = %+v, %v, want home-net profile", c, ok)
	}

	all, err := m.ReadAllProfiles()
	if err != nil {
		t.Fatalf("ReadAllProfiles: %v", err)
	}
	found := false
	for _, p := range all {
		if p.Key == "home" {
			found = true
		}
	}
	if !found {
		t.Fatal("ReadAllProfiles did not include the newly created profile's key")
	}
}

func TestCreateProfileRejectsDuplicateKey(t *testing.T) {
	m, _ := newTestManager(t)
	_, _ = m.CreateProfile("home", Credentials{SSID: "first"})

	ok, err := m.CreateProfile("home", Credentials{SSID: "second"})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if ok {
		t.Fatal("CreateProfile = true for an already-registered key")
	}
	c, _ := m.ReadProfile("home")
	if c.SSID != "first" {
		t.Errorf("profile was overwritten by a rejected duplicate create: %+v", c)
	}
}

func TestCreateProfileRejectsEmptyKey(t *testing.T) {
	m, _ := newTestManager(t)
	ok, err := m.CreateProfile("", Credentials{SSID: "x"})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if ok {
		t.Fatal("CreateProfile = true for an empty key")
	}
}

func TestSelectActiveProfileRequiresExistingProfile(t *testing.T) {
	m, _ := newTestManager(t)

	ok, err := m.SelectActiveProfile("ghost")
	if err != nil {
		t.Fatalf("SelectActiveProfile: %v", err)
	}
	if ok {
		t.Fatal("SelectActiveProfile = true for a never-created key")
	}
	if _, has := m.ActiveCredentials(); has {
		t.Fatal("ActiveCredentials has an active profile after a rejected selection")
	}
}

func TestSelectActiveProfileLoadsCredentialsAndPersists(t *testing.T) {
	m, store := newTestManager(t)
	_, _ = m.CreateProfile("home", Credentials{SSID: "home-net", ClientPort: 9000})

	ok, err := m.SelectActiveProfile("home")
	if err != nil {
		t.Fatalf("SelectActiveProfile: %v", err)
	}
	if !ok {
		t.Fatal("SelectActiveProfile = false for a registered key")
	}

	creds, has := m.ActiveCredentials()
	if !has || creds.SSID != "home-net" {
		t.Fatalf("ActiveCredentials = %+v, %v, want home-net profile", creds, has)
	}
	if store.data[activeKeyKey] != "home" {
		t.Errorf("active key was not persisted: %q", store.data[activeKeyKey])
	}
}

func TestLoadActiveProfileRestoresFromPersistedKey(t *testing.T) {
	store := newFakeStore()
	m, err := New(store, BuildProfile{SSID: "build"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _ = m.CreateProfile("home", Credentials{SSID: "home-net"})
	_, _ = m.SelectActiveProfile("home")

	fresh, err := New(store, BuildProfile{SSID: "build"})
	if err != nil {
		t.Fatalf("New (second instance): %v", err)
	}
	if has := fresh.LoadActiveProfile(); !has {
		t.Fatal("LoadActiveProfile = false after a prior process selected and persisted an active profile")
	}
	creds, has := fresh.ActiveCredentials()
	if !has || creds.SSID != "home-net" {
		t.Fatalf("restored credentials = %+v, want home-net profile", creds)
	}
}

func TestDestroyProfileRemovesKeyAndProfile(t *testing.T) {
	m, _ := newTestManager(t)
	_, _ = m.CreateProfile("home", Credentials{SSID: "home-net"})

	ok, err := m.DestroyProfile("home")
	if err != nil {
		t.Fatalf("DestroyProfile: %v", err)
	}
	if !ok {
		t.Fatal("DestroyProfile = false for an existing key")
	}

	if _, ok := m.ReadProfile("home"); ok {
		t.Error("profile still readable after DestroyProfile")
	}
	all, _ := m.ReadAllProfiles()
	for _, p := range all {
		if p.Key == "home" {
			t.Fatal("destroyed key still present in ReadAllProfiles")
		}
	}
}

func TestDestroyProfileUnregisteredKeyReportsFailure(t *testing.T) {
	m, _ := newTestManager(t)
	_, _ = m.CreateProfile("home", Credentials{SSID: "home-net"})

	ok, err := m.DestroyProfile("does-not-exist")
	if err != nil {
		t.Fatalf("DestroyProfile: %v", err)
	}
	if ok {
		t.Fatal("DestroyProfile = true for a key that was never registered")
	}

	all, _ := m.ReadAllProfiles()
	if len(all) != 2 || all[0].Key != PrimaryWifiKey || all[1].Key != "home" {
		t.Fatalf("ReadAllProfiles = %+v, want unchanged [%s home]", all, PrimaryWifiKey)
	}
}

func TestReadActiveProfileReflectsPersistedSelection(t *testing.T) {
	m, _ := newTestManager(t)
	_, _ = m.CreateProfile("home", Credentials{SSID: "home-net", ClientPort: 9000})
	_, _ = m.SelectActiveProfile("home")

	key, creds, ok := m.ReadActiveProfile()
	if !ok {
		t.Fatal("ReadActiveProfile = false after a selection")
	}
	if key != "home" || creds.SSID != "home-net" {
		t.Errorf("ReadActiveProfile = %q, %+v, want home/home-net", key, creds)
	}
}
