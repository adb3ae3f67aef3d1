package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// cacheTTL controls how long a cached name is valid.
var cacheTTL = 5 * time.Minute

type cacheEntry struct {
	val    string
	expiry time.Time
}

// Resolver caches Discord display names so log lines can carry usernames
// without hammering the API.
type Resolver struct {
	s  *discordgo.Session
	mu sync.Mutex

	userCache    map[string]cacheEntry
	channelCache map[string]cacheEntry
}

func NewResolver(s *discordgo.Session) *Resolver {
	return &Resolver{
		s:            s,
		userCache:    make(map[string]cacheEntry),
		channelCache: make(map[string]cacheEntry),
	}
}

func (r *Resolver) lookupCache(m map[string]cacheEntry, id string) (string, bool) {
	if id == "" {
		return "", false
	}
	if e, ok := m[id]; ok {
		if time.Now().Before(e.expiry) {
			return e.val, true
		}
		delete(m, id)
	}
	return "", false
}

func (r *Resolver) setCache(m map[string]cacheEntry, id, val string) {
	m[id] = cacheEntry{val: val, expiry: time.Now().Add(cacheTTL)}
}

// UserName returns the username for a user id, or "" when unknown.
func (r *Resolver) UserName(userID string) string {
	if r.s == nil || userID == "" {
		return ""
	}
	r.mu.Lock()
	if v, ok := r.lookupCache(r.userCache, userID); ok {
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()
	if u, err := r.s.User(userID); err == nil && u != nil {
		r.mu.Lock()
		r.setCache(r.userCache, userID, u.Username)
		r.mu.Unlock()
		return u.Username
	}
	return ""
}

// ChannelName returns the channel name for a channel id, or "" when
// unknown. Checks session state before hitting the API.
func (r *Resolver) ChannelName(channelID string) string {
	if r.s == nil || channelID == "" {
		return ""
	}
	r.mu.Lock()
	if v, ok := r.lookupCache(r.channelCache, channelID); ok {
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()
	if r.s.State != nil {
		if c, err := r.s.State.Channel(channelID); err == nil && c != nil {
			r.mu.Lock()
			r.setCache(r.channelCache, channelID, c.Name)
			r.mu.Unlock()
			return c.Name
		}
	}
	if c, err := r.s.Channel(channelID); err == nil && c != nil {
		r.mu.Lock()
		r.setCache(r.channelCache, channelID, c.Name)
		r.mu.Unlock()
		return c.Name
	}
	return ""
}
