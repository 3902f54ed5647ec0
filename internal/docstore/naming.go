package docstore

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// MaxCollectionNameLength bounds collection names.
const MaxCollectionNameLength = 64

// collectionNamePattern matches valid collection names. Case is
// preserved; dots are allowed so role collections like "agent_Admin"
// and versioned names like "notes.v2" both work.
var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateCollectionName checks a collection name against the naming
// policy. Returns a VALIDATION fault describing the first problem found.
func ValidateCollectionName(name string) error {
	const op = "docstore.ValidateCollectionName"

	if name == "" {
		return fault.New(fault.CodeValidation, op, "collection name cannot be empty")
	}
	if len(name) > MaxCollectionNameLength {
		return fault.New(fault.CodeValidation, op,
			"collection name exceeds %d characters: %q", MaxCollectionNameLength, name)
	}
	if !collectionNamePattern.MatchString(name) {
		return fault.New(fault.CodeValidation, op,
			"collection name %q may only contain letters, digits, '.', '_', '-'", name)
	}
	// Dot-only names would collide with directory entries.
	if strings.Trim(name, ".") == "" {
		return fault.New(fault.CodeSecurity, op, "collection name %q is not allowed", name)
	}
	return nil
}

// collectionFileName returns the file name for a collection.
func collectionFileName(name string) string {
	return name + ".json"
}

// collectionNameFromFile inverts collectionFileName, reporting ok=false
// for files that are not collections.
func collectionNameFromFile(file string) (string, bool) {
	if !strings.HasSuffix(file, ".json") {
		return "", false
	}
	name := strings.TrimSuffix(file, ".json")
	if ValidateCollectionName(name) != nil {
		return "", false
	}
	return name, true
}
