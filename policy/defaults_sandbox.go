//go:build js || wasip1

package policy

// Sandboxed targets cannot spawn processes or open sockets in any useful way,
// so those capabilities start out denied.
func narrowDefaults(flags *[numPermissions]bool) {
	flags[Exec] = false
	flags[Network] = false
}
