// Package wifiprofile implements wireless profile CRUD (C9): multiple
// named credential sets persisted in a pkg/kvstore.Store, one of which is
// "active" and survives process restarts. Grounded on
// original_source/arduino/lib/Utils/WifiProfile.cpp/.h.
package wifiprofile

import (
	"encoding/json"
	"fmt"

	"github.com/librescoot/mayako-node/pkg/kvstore"
)

// Storage keys, matching NET::WIFI_KEYS/WIFI_ACTIVE_KEY/PIMARY_WIFI_KEY.
const (
	keysKey       = "WIFI_KEYS"
	activeKeyKey  = "WIFI_ACTIVE_KEY"
	PrimaryWifiKey = "PIMARY_WIFI_KEY"
)

// Credentials is one wireless profile, matching the C++ WiFiCredentials
// struct and the JSON shape readProfile/readAllProfiles produce.
type Credentials struct {
	SSID       string `json:"ssid"`
	Password   string `json:"password"`
	ClientIP   string `json:"client_ip"`
	ClientPort uint16 `json:"client_port"`
}

// BuildProfile is the set of build-time-defined defaults a fresh device
// seeds its primary profile with, matching SSID/PASSWORD/CLIENT_IP/
// CLIENT_PORT in Definitions.h.
type BuildProfile struct {
	SSID       string
	Password   string
	ClientIP   string
	ClientPort uint16
}

// Manager owns the keyed profile store and the currently active profile,
// mirroring WiFiProfile.
type Manager struct {
	store  kvstore.Store
	active Credentials
	hasActive bool
}

// New builds a manager over store and immediately writes a default primary
// profile seeded from build, matching WiFiProfile's constructor calling
// processBuildProfile unconditionally. It does not load an active profile;
// callers that need one restored from a prior run should call
// LoadActiveProfile afterward.
func New(store kvstore.Store, build BuildProfile) (*Manager, error) {
	m := &Manager{store: store}
	if err := m.processBuildProfile(build); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) processBuildProfile(build BuildProfile) error {
	if err := m.writeProfile(PrimaryWifiKey, Credentials{
		SSID:       build.SSID,
		Password:   build.Password,
		ClientIP:   build.ClientIP,
		ClientPort: build.ClientPort,
	}); err != nil {
		return err
	}

	keys, err := m.profileKeys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == PrimaryWifiKey {
			return nil
		}
	}
	return m.setProfileKeys(append(keys, PrimaryWifiKey))
}

func (m *Manager) writeProfile(key string, c Credentials) error {
	buf, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("wifiprofile: marshal profile: %w", err)
	}
	return m.store.Set(key, string(buf))
}

// LoadActiveProfile restores credentials from the persisted active key, for
// use at startup before the wireless transport is brought up, matching
// WiFiProfile::loadActiveProfile.
func (m *Manager) LoadActiveProfile() bool {
	key, ok, err := m.store.Get(activeKeyKey)
	if err != nil || !ok || key == "" {
		return false
	}
	raw, ok, err := m.store.Get(key)
	if err != nil || !ok || raw == "" {
		return false
	}
	var c Credentials
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return false
	}
	m.active = c
	m.hasActive = true
	return true
}

// ActiveCredentials returns the in-memory active profile and whether one
// has been selected since the manager was constructed or loaded.
func (m *Manager) ActiveCredentials() (Credentials, bool) {
	return m.active, m.hasActive
}

// ReadActiveProfile answers WIFI_PROFILE_ACTIVE_READ: the key and
// credentials of the persisted active profile (not necessarily the one
// loaded into memory), matching WiFiProfile::readActiveProfile.
func (m *Manager) ReadActiveProfile() (key string, creds Credentials, ok bool) {
	key, found, err := m.store.Get(activeKeyKey)
	if err != nil || !found || key == "" {
		return "", Credentials{}, false
	}
	raw, found, err := m.store.Get(key)
	if err != nil || !found || raw == "" {
		return "", Credentials{}, false
	}
	var c Credentials
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return "", Credentials{}, false
	}
	return key, c, true
}

// CreateProfile stores a new profile under key, rejecting an empty key or
// one already registered, matching WiFiProfile::createProfile. Unlike the
// C++ source — which stores the profile but never registers key in the
// wifi_keys list, leaving it unreachable from readAllProfiles/destroyProfile
// — this also appends key to the key list, symmetric with destroyProfile's
// removal of it. processBuildProfile does the same for the build-time
// primary profile, so it is reachable the same way a created one is.
func (m *Manager) CreateProfile(key string, creds Credentials) (bool, error) {
	if key == "" {
		return false, nil
	}

	keys, err := m.profileKeys()
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == key {
			return false, nil
		}
	}

	if err := m.writeProfile(key, creds); err != nil {
		return false, err
	}
	if err := m.setProfileKeys(append(keys, key)); err != nil {
		return false, err
	}
	return true, nil
}

// ReadProfile answers WIFI_PROFILE_READ for a single key, matching
// WiFiProfile::readProfile.
func (m *Manager) ReadProfile(key string) (Credentials, bool) {
	if key == "" {
		return Credentials{}, false
	}
	raw, ok, err := m.store.Get(key)
	if err != nil || !ok || raw == "" {
		return Credentials{}, false
	}
	var c Credentials
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Credentials{}, false
	}
	return c, true
}

// ProfileView pairs a key with its credentials for ReadAllProfiles.
type ProfileView struct {
	Key         string
	Credentials Credentials
}

// ReadAllProfiles answers WIFI_PROFILE_ALL_READ, matching
// WiFiProfile::readAllProfiles. Keys whose profile has since vanished from
// the store are skipped rather than failing the whole read.
func (m *Manager) ReadAllProfiles() ([]ProfileView, error) {
	keys, err := m.profileKeys()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var out []ProfileView
	for _, key := range keys {
		raw, ok, err := m.store.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok || raw == "" {
			continue
		}
		var c Credentials
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			continue
		}
		out = append(out, ProfileView{Key: key, Credentials: c})
	}
	return out, nil
}

// SelectActiveProfile marks key as active, both persisting it as the
// restart-surviving active key and loading its credentials into memory,
// matching WiFiProfile::selectActiveProfile. A profile must already exist
// under key; selection never creates one.
func (m *Manager) SelectActiveProfile(key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	keys, err := m.profileKeys()
	if err != nil {
		return false, err
	}
	found := false
	for _, k := range keys {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	raw, ok, err := m.store.Get(key)
	if err != nil {
		return false, err
	}
	if !ok || raw == "" {
		return false, nil
	}

	if err := m.store.Set(activeKeyKey, key); err != nil {
		return false, err
	}

	var c Credentials
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return false, fmt.Errorf("wifiprofile: decode selected profile: %w", err)
	}
	m.active = c
	m.hasActive = true
	return true, nil
}

// DestroyProfile removes key's profile and its entry in the key list,
// matching WiFiProfile::destroyProfile. The C++ source reports failure
// when storage->destroy(key) reports the key never existed; kvstore.Store's
// Destroy has no such signal (deleting an absent key is not an error), so
// the existence check happens against the key list instead.
func (m *Manager) DestroyProfile(key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	keys, err := m.profileKeys()
	if err != nil {
		return false, err
	}
	remaining := keys[:0]
	found := false
	for _, k := range keys {
		if k == key {
			found = true
			continue
		}
		remaining = append(remaining, k)
	}
	if !found {
		return false, nil
	}

	if err := m.store.Destroy(key); err != nil {
		return false, err
	}
	if err := m.setProfileKeys(remaining); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) profileKeys() ([]string, error) {
	raw, ok, err := m.store.Get(keysKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("wifiprofile: decode key list: %w", err)
	}
	return keys, nil
}

func (m *Manager) setProfileKeys(keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	buf, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("wifiprofile: marshal key list: %w", err)
	}
	return m.store.Set(keysKey, string(buf))
}
