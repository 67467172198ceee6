package auth

import (
	"net/http"
	"strings"
)

// Roles carried in the "role" claim.
const (
	// RoleAdmin may call every endpoint.
	RoleAdmin = "admin"
	// RoleSender may submit notifications and read their status.
	RoleSender = "sender"
	// RoleViewer may only read delivery status.
	RoleViewer = "viewer"
)

// Permission lists the methods and path patterns a role may use.
// "/*" matches everything; "/status/*" matches "/status" and any subpath.
type Permission struct {
	AllowedMethods []string
	AllowedPaths   []string
}

// RolePermissions maps each role to its permissions.
var RolePermissions = map[string]Permission{
	RoleAdmin: {
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedPaths:   []string{"/*"},
	},
	RoleSender: {
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedPaths:   []string{"/notifications", "/sendNotification", "/status/*", "/messages/*"},
	},
	RoleViewer: {
		AllowedMethods: []string{http.MethodGet},
		AllowedPaths:   []string{"/status/*", "/messages/*"},
	},
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

// checkRolePermission reports whether role may call method on path.
func checkRolePermission(role, method, path string) bool {
	perm, ok := RolePermissions[role]
	if !ok {
		return false
	}

	methodAllowed := false
	for _, m := range perm.AllowedMethods {
		if m == method {
			methodAllowed = true
			break
		}
	}
	if !methodAllowed {
		return false
	}
	return matchesPathPattern(path, perm.AllowedPaths)
}

func matchesPathPattern(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "/*" {
			return true
		}
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "/*")
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}
