package service

import "sync"

// InMemoryUserDirectory backs the dev profile and tests. Real deployments
// plug in the account service behind the UserDirectory interface; this core
// never owns user records.
type InMemoryUserDirectory struct {
	mu         sync.Mutex
	nextID     uint
	byProvider map[string]uint
	roles      map[uint][]string
}

func NewInMemoryUserDirectory() *InMemoryUserDirectory {
	return &InMemoryUserDirectory{
		nextID:     1,
		byProvider: map[string]uint{},
		roles:      map[uint][]string{},
	}
}

// Seed registers a user with fixed roles, for tests and dev fixtures.
func (d *InMemoryUserDirectory) Seed(userID uint, roles []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[userID] = roles
	if userID >= d.nextID {
		d.nextID = userID + 1
	}
}

func (d *InMemoryUserDirectory) Lookup(userID uint) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	roles, ok := d.roles[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return roles, nil
}

func (d *InMemoryUserDirectory) ResolveExternal(info *OAuthUserInfo) (uint, []string, error) {
	key := info.Provider + ":" + info.ProviderUserID
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byProvider[key]; ok {
		return id, d.roles[id], nil
	}
	id := d.nextID
	d.nextID++
	d.byProvider[key] = id
	d.roles[id] = []string{"user"}
	return id, d.roles[id], nil
}
