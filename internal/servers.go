package internal

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ServerStatus is the last known connection status of a saved server
type ServerStatus string

const (
	ServerConnected    ServerStatus = "connected"
	ServerConnecting   ServerStatus = "connecting"
	ServerDisconnected ServerStatus = "disconnected"
	ServerError        ServerStatus = "error"
)

// Server is a saved server entry
type Server struct {
	ID              string       `json:"id" yaml:"id"`
	Name            string       `json:"name" yaml:"name"`
	URL             string       `json:"url" yaml:"url"`
	LastConnected   time.Time    `json:"lastConnected,omitempty" yaml:"last_connected,omitempty"`
	Status          ServerStatus `json:"status,omitempty" yaml:"status,omitempty"`
	IsPinned        bool         `json:"isPinned" yaml:"is_pinned"`
	ConnectionCount int          `json:"connectionCount" yaml:"connection_count"`
}

// ServerList persists saved servers in a KeyValueStore under KeyServers
type ServerList struct {
	kv KeyValueStore
}

// NewServerList creates a ServerList over kv
func NewServerList(kv KeyValueStore) *ServerList {
	return &ServerList{kv: kv}
}

// Load returns all saved servers. Storage failures yield an empty list.
func (l *ServerList) Load(ctx context.Context) []Server {
	var servers []Server
	if _, err := l.kv.Get(ctx, KeyServers, &servers); err != nil {
		LogWarn("Failed to load servers: %v", err)
		return []Server{}
	}
	if servers == nil {
		servers = []Server{}
	}
	return servers
}

func (l *ServerList) save(ctx context.Context, servers []Server) error {
	if err := l.kv.Set(ctx, KeyServers, servers); err != nil {
		LogError("Failed to save servers: %v", err)
		return err
	}
	LogDebug("Saved %d servers", len(servers))
	return nil
}

// Add saves a server, merging into an existing entry with the same URL
func (l *ServerList) Add(ctx context.Context, server Server) error {
	servers := l.Load(ctx)
	server.URL = NormalizeBaseURL(server.URL)

	for i := range servers {
		if servers[i].URL == server.URL {
			if server.Name != "" {
				servers[i].Name = server.Name
			}
			servers[i].IsPinned = servers[i].IsPinned || server.IsPinned
			return l.save(ctx, servers)
		}
	}

	if server.ID == "" {
		server.ID = "server_" + uuid.NewString()
	}
	if server.Name == "" {
		server.Name = server.URL
	}
	server.ConnectionCount = 0
	servers = append(servers, server)
	return l.save(ctx, servers)
}

// Delete removes a server by id; it reports whether anything was removed
func (l *ServerList) Delete(ctx context.Context, id string) (bool, error) {
	servers := l.Load(ctx)
	filtered := servers[:0]
	for _, s := range servers {
		if s.ID != id {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == len(servers) {
		LogWarn("Server not found for deletion: %s", id)
		return false, nil
	}
	return true, l.save(ctx, filtered)
}

// UpdateStatus records a status change for the server at url. A transition
// to connected bumps the connection count and last-connected time.
func (l *ServerList) UpdateStatus(ctx context.Context, url string, status ServerStatus) error {
	servers := l.Load(ctx)
	url = NormalizeBaseURL(url)
	for i := range servers {
		if servers[i].URL != url {
			continue
		}
		servers[i].Status = status
		if status == ServerConnected {
			servers[i].LastConnected = time.Now()
			servers[i].ConnectionCount++
		}
		return l.save(ctx, servers)
	}
	return nil
}

// TogglePin flips the pinned flag of a server
func (l *ServerList) TogglePin(ctx context.Context, id string) (bool, error) {
	servers := l.Load(ctx)
	for i := range servers {
		if servers[i].ID == id {
			servers[i].IsPinned = !servers[i].IsPinned
			return true, l.save(ctx, servers)
		}
	}
	return false, nil
}

// Sorted returns servers pinned first, then most recently connected, then by name
func (l *ServerList) Sorted(ctx context.Context) []Server {
	servers := l.Load(ctx)
	sort.SliceStable(servers, func(i, j int) bool {
		a, b := servers[i], servers[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if !a.LastConnected.Equal(b.LastConnected) {
			return a.LastConnected.After(b.LastConnected)
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return servers
}
