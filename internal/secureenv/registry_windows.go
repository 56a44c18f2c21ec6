//go:build windows

package secureenv

import (
	"os"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// registryPaths reads the user and machine PATH from the registry. A host
// started by an installer or a service does not inherit the user's PATH, so
// the registry is the reliable source. User entries come first.
func registryPaths() []string {
	var combined []string
	read := func(root registry.Key, path string) {
		key, err := registry.OpenKey(root, path, registry.QUERY_VALUE)
		if err != nil {
			return
		}
		defer key.Close()
		value, _, err := key.GetStringValue("Path")
		if err != nil || value == "" {
			return
		}
		// REG_EXPAND_SZ values embed %VARS%.
		expanded, err := registry.ExpandString(value)
		if err != nil {
			expanded = os.ExpandEnv(value)
		}
		for _, p := range strings.Split(expanded, ";") {
			if p = strings.TrimSpace(p); p != "" {
				combined = append(combined, p)
			}
		}
	}
	read(registry.CURRENT_USER, `Environment`)
	read(registry.LOCAL_MACHINE, `SYSTEM\CurrentControlSet\Control\Session Manager\Environment`)
	return combined
}
