//go:build !js && !wasip1

package policy

func narrowDefaults(flags *[numPermissions]bool) {}
