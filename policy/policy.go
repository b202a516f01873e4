// Package policy holds the capability flags that gate privileged host
// operations (file I/O, process spawn, network and environment access).
//
// A Kit is a plain policy store. It never intercepts anything by itself;
// host-bound builtins consult it before touching the host.
package policy

import (
	"fmt"
	"strings"
	"sync"
)

// Permission names one privileged capability.
type Permission int

const (
	Read    Permission = iota // read files, list directories, stat
	Write                     // create, modify or delete files
	Exec                      // spawn processes
	Network                   // resolve or contact remote hosts
	Env                       // read or modify the process environment

	numPermissions
)

var permissionNames = [numPermissions]string{
	Read:    "read",
	Write:   "write",
	Exec:    "exec",
	Network: "network",
	Env:     "env",
}

func (p Permission) String() string {
	if p >= 0 && p < numPermissions {
		return permissionNames[p]
	}
	return fmt.Sprintf("Permission(%d)", int(p))
}

// All returns every permission in declaration order.
func All() []Permission {
	perms := make([]Permission, 0, numPermissions)
	for p := Permission(0); p < numPermissions; p++ {
		perms = append(perms, p)
	}
	return perms
}

// ParsePermission maps a name such as "read" or "exec" to its Permission.
// A few common aliases are accepted.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "file-read", "fileread":
		return Read, nil
	case "write", "file-write", "filewrite":
		return Write, nil
	case "exec", "process", "process-exec":
		return Exec, nil
	case "network", "net":
		return Network, nil
	case "env", "environment":
		return Env, nil
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// Kit is a set of independent capability flags. It is safe for concurrent
// use, so one Kit can be shared by every VM a scheduler creates.
type Kit struct {
	mu    sync.RWMutex
	flags [numPermissions]bool
}

// New returns a Kit holding the platform defaults: everything allowed, except
// on sandboxed targets where process exec and network start out denied.
func New() *Kit {
	k := &Kit{}
	for p := Permission(0); p < numPermissions; p++ {
		k.flags[p] = true
	}
	narrowDefaults(&k.flags)
	return k
}

// Check reports whether p is currently allowed. Unknown permissions are
// never allowed.
func (k *Kit) Check(p Permission) bool {
	if p < 0 || p >= numPermissions {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.flags[p]
}

// Set allows or denies p. Unknown permissions are ignored.
func (k *Kit) Set(p Permission, allowed bool) {
	if p < 0 || p >= numPermissions {
		return
	}
	k.mu.Lock()
	k.flags[p] = allowed
	k.mu.Unlock()
}

// Snapshot returns a copy of the current flags.
func (k *Kit) Snapshot() map[Permission]bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	m := make(map[Permission]bool, numPermissions)
	for p := Permission(0); p < numPermissions; p++ {
		m[p] = k.flags[p]
	}
	return m
}

func (k *Kit) String() string {
	snap := k.Snapshot()
	parts := make([]string, 0, len(snap))
	for _, p := range All() {
		mark := "-"
		if snap[p] {
			mark = "+"
		}
		parts = append(parts, mark+p.String())
	}
	return strings.Join(parts, " ")
}
