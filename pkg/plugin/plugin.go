// Package plugin is the pluggable command registry spec.md §2 carves
// out of the controller's scope: handlers are opaque
// execute(sock, sessionId, args, message) functions, loaded once at
// boot and looked up by command name. Business logic inside a handler
// is not this package's concern.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wafleet/sessionfleet/domain/message"
)

// Socket is the narrow handle a command needs: enough to act on the
// session that received the command without the registry depending on
// the concrete client-library adapter.
type Socket interface {
	SendMessage(ctx context.Context, jid, text, quotedID, quotedParticipant string) (string, error)
}

// Handler is the opaque command contract spec.md §2 names:
// execute(sock, sessionId, args, message).
type Handler func(ctx context.Context, sock Socket, sessionID string, args []string, m *message.Message) error

// Command pairs a handler with the metadata a help listing needs.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	AdminOnly   bool
	Handler     Handler
}

// Registry is the boot-time command table; safe for concurrent lookup
// while handlers run (spec.md §4.5 step 13 calls Lookup from every
// dispatcher goroutine concurrently).
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command // includes alias entries, pointing at the same *Command
}

func New() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command, indexing it by name and every alias.
// Registering a name that already exists overwrites the prior entry —
// callers discover plugins at boot in a fixed order, so last-registered
// wins deterministically rather than erroring.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cmd
	r.commands[strings.ToLower(cmd.Name)] = &stored
	for _, alias := range cmd.Aliases {
		r.commands[strings.ToLower(alias)] = &stored
	}
}

// Lookup resolves a command name (already lowercased by convention at
// the call site, but normalized here defensively) to its Command.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// Execute looks up name and invokes its handler, or returns an error if
// no command is registered under that name.
func (r *Registry) Execute(ctx context.Context, name string, sock Socket, sessionID string, args []string, m *message.Message) error {
	cmd, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("plugin: no command registered for %q", name)
	}
	return cmd.Handler(ctx, sock, sessionID, args, m)
}

// List returns every distinct registered command (deduplicated across
// aliases), sorted by name, for a help/commands listing.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*Command]bool)
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		if seen[cmd] {
			continue
		}
		seen[cmd] = true
		out = append(out, *cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParseCommand splits a message body on a prefix into (command, args).
// An empty prefix means "every non-empty message is a command" (spec.md
// §4.5 step 8); otherwise body must start with prefix or ok is false.
func ParseCommand(prefix, body string) (command string, args []string, ok bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", nil, false
	}
	if prefix != "" {
		if !strings.HasPrefix(body, prefix) {
			return "", nil, false
		}
		body = body[len(prefix):]
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
