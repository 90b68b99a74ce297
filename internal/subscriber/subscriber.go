// Package subscriber resolves which clients are subscribed to a service
// profile.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrInvalidDirectory = errors.New("invalid subscriber directory")

// Subscriber is a network client bound to a service profile.
type Subscriber struct {
	Username   string `yaml:"username" json:"username"`
	MACAddress string `yaml:"mac_address" json:"mac_address,omitempty"`
	ProfileID  string `yaml:"profile_id" json:"profile_id"`
}

// Directory lists subscribers by service profile.
type Directory interface {
	ByProfile(ctx context.Context, profileID string) ([]Subscriber, error)
}

// Static is an in-memory Directory.
type Static struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

// NewStatic builds a directory from subs. Later entries for the same
// username replace earlier ones.
func NewStatic(subs ...Subscriber) *Static {
	s := &Static{subs: make(map[string]Subscriber, len(subs))}
	for _, sub := range subs {
		s.subs[sub.Username] = sub
	}
	return s
}

// Put adds or replaces a subscriber.
func (s *Static) Put(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.Username] = sub
}

// ByProfile returns the profile's subscribers ordered by username.
func (s *Static) ByProfile(_ context.Context, profileID string) ([]Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscriber
	for _, sub := range s.subs {
		if sub.ProfileID == profileID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

type file struct {
	Subscribers []Subscriber `yaml:"subscribers"`
}

// LoadYAML reads a directory file of the form:
//
//	subscribers:
//	  - username: alice
//	    mac_address: "aa:bb:cc:dd:ee:01"
//	    profile_id: home-50m
func LoadYAML(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subscriber file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}
	for i, sub := range f.Subscribers {
		if sub.Username == "" {
			return nil, fmt.Errorf("%w: entry %d has no username", ErrInvalidDirectory, i)
		}
		if sub.ProfileID == "" {
			return nil, fmt.Errorf("%w: %s has no profile_id", ErrInvalidDirectory, sub.Username)
		}
	}
	return NewStatic(f.Subscribers...), nil
}
