// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package event

import (
	"regexp"
	"strings"
)

// Separator splits an event identifier into namespace segments.
const Separator = "."

// maxNameLength bounds the full identifier, separators included.
const maxNameLength = 128

var segmentPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidateName checks that id is a namespaced identifier of the form
// root.leaf[.more], where every segment starts with a lowercase letter and
// contains only lowercase letters, digits, underscores and hyphens.
//
// A malformed first segment yields INVALID_ROOT_NAME; every other problem
// (empty, too long, no separator, malformed later segment) yields
// INVALID_EVENT_NAME.
func ValidateName(id string) error {
	return validateName(id, nil)
}

func validateName(id string, roots map[string]struct{}) error {
	if id == "" {
		return ErrInvalidEventName(id, "identifier is empty")
	}
	if len(id) > maxNameLength {
		return ErrInvalidEventName(id, "identifier is too long")
	}

	root, rest, found := strings.Cut(id, Separator)
	if !found {
		return ErrInvalidEventName(id, "identifier must be namespaced as root"+Separator+"name")
	}
	if !segmentPattern.MatchString(root) {
		return ErrInvalidRootName(id, root, "root must start with a-z and contain only a-z, 0-9, '_' or '-'")
	}
	if roots != nil {
		if _, ok := roots[root]; !ok {
			return ErrInvalidRootName(id, root, "root is not an allowed namespace")
		}
	}

	for _, seg := range strings.Split(rest, Separator) {
		if !segmentPattern.MatchString(seg) {
			return ErrInvalidEventName(id, "segment "+quote(seg)+" must start with a-z and contain only a-z, 0-9, '_' or '-'")
		}
	}
	return nil
}

// Root returns the namespace root of a valid identifier.
func Root(id string) string {
	root, _, _ := strings.Cut(id, Separator)
	return root
}

func quote(s string) string {
	return `"` + s + `"`
}
