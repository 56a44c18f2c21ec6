//go:build !windows

package secureenv

func registryPaths() []string { return nil }
