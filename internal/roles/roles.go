// Package roles defines the specialist roles that carry out plan steps
// and the keyword table that assigns a role to a step.
//
// Resolution scans a priority-ordered table against the words of a step
// description; the first role with a matching keyword wins and
// unmatched descriptions fall back to Developer. Each role owns a
// knowledge collection named agent_<Role>.
package roles

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// AdminName is the orchestrator-level role. Phase artifacts that no
// specialist produced (analysis, context, plans, validation reports)
// are recorded under it.
const AdminName = "Admin"

// DefaultName is the fallback role when no keyword matches.
const DefaultName = "Developer"

// CollectionPrefix prefixes every role's knowledge collection name.
const CollectionPrefix = "agent_"

// Role is one specialist: its resolution keywords and the instructions
// prepended to every generation request it handles.
type Role struct {
	Name         string   `yaml:"name"`
	Keywords     []string `yaml:"keywords"`
	Instructions string   `yaml:"instructions"`
}

// Collection returns the role's knowledge collection name.
func (r Role) Collection() string {
	return CollectionPrefix + r.Name
}

// builtins is the built-in priority-ordered table. More specific
// specialists come first; Developer is the catch-all and must stay last.
var builtins = []Role{
	{
		Name:         "Architect",
		Keywords:     []string{"architecture", "design", "structure", "schema", "interface", "refactor"},
		Instructions: "You are a software architect. Favor small, composable designs; state the structural decisions you make and keep module boundaries explicit.",
	},
	{
		Name:         "Security",
		Keywords:     []string{"security", "auth", "authentication", "authorization", "vulnerability", "sanitize", "encrypt"},
		Instructions: "You are a security specialist. Validate all inputs, avoid leaking secrets into code or logs, and call out any residual risk in comments.",
	},
	{
		Name:         "Database",
		Keywords:     []string{"database", "sql", "migration", "query", "index", "transaction"},
		Instructions: "You are a database specialist. Keep migrations reversible, queries indexed, and data access behind a narrow interface.",
	},
	{
		Name:         "DevOps",
		Keywords:     []string{"deploy", "deployment", "docker", "kubernetes", "ci", "infrastructure", "terraform"},
		Instructions: "You are a DevOps engineer. Produce reproducible configuration, pin versions, and keep build and deploy steps scriptable.",
	},
	{
		Name:         "Tester",
		Keywords:     []string{"test", "tests", "testing", "coverage", "regression", "assert"},
		Instructions: "You are a test engineer. Write deterministic tests with clear arrange-act-assert structure and meaningful failure messages.",
	},
	{
		Name:         "Documenter",
		Keywords:     []string{"document", "documentation", "readme", "docs", "changelog"},
		Instructions: "You are a technical writer. Write for the next maintainer: lead with what the code does, then how to use it.",
	},
	{
		Name:         "Frontend",
		Keywords:     []string{"ui", "frontend", "css", "component", "layout", "accessibility"},
		Instructions: "You are a frontend developer. Keep components small, state minimal, and markup accessible.",
	},
	{
		Name:         DefaultName,
		Keywords:     []string{"implement", "code", "fix", "bug", "feature"},
		Instructions: "You are a senior software developer. Write clear, idiomatic code that matches the surrounding style, handle errors explicitly, and keep changes minimal.",
	},
}

// adminRole is not part of the resolution table; it is addressed by name.
var adminRole = Role{
	Name:         AdminName,
	Instructions: "You are the engineering lead coordinating this task. Summarize precisely and decide conservatively.",
}

// Resolver assigns specialist roles to step descriptions.
type Resolver struct {
	table    []Role
	fallback Role
	byName   map[string]Role
}

// NewResolver returns a resolver over the built-in role table.
func NewResolver() *Resolver {
	r, err := newResolver(builtins)
	if err != nil {
		// The built-in table is validated by tests; this cannot fail at
		// runtime.
		panic(err)
	}
	return r
}

// rolesFile is the on-disk shape of a role override file.
type rolesFile struct {
	Roles []Role `yaml:"roles"`
}

// ParseRolesYAML decodes a role table from YAML bytes. The file
// replaces the built-in table entirely; order is priority order.
func ParseRolesYAML(data []byte) (*Resolver, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("roles: file is empty")
	}
	var rf rolesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("roles: decode: %w", err)
	}
	if len(rf.Roles) == 0 {
		return nil, fmt.Errorf("roles: file defines no roles")
	}
	return newResolver(rf.Roles)
}

// LoadRolesFile loads a role override file from disk.
func LoadRolesFile(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roles: read %s: %w", path, err)
	}
	r, err := ParseRolesYAML(data)
	if err != nil {
		return nil, fmt.Errorf("roles: %s: %w", path, err)
	}
	return r, nil
}

func newResolver(table []Role) (*Resolver, error) {
	byName := make(map[string]Role, len(table)+1)
	for _, role := range table {
		if role.Name == "" {
			return nil, fmt.Errorf("roles: role with empty name")
		}
		if _, dup := byName[role.Name]; dup {
			return nil, fmt.Errorf("roles: duplicate role %q", role.Name)
		}
		byName[role.Name] = role
	}

	fallback, ok := byName[DefaultName]
	if !ok {
		return nil, fmt.Errorf("roles: table must define the %q fallback role", DefaultName)
	}
	byName[AdminName] = adminRole

	return &Resolver{table: table, fallback: fallback, byName: byName}, nil
}

// Resolve scans the table in priority order against the words of the
// description. The first role with a matching keyword wins; empty or
// unmatched descriptions resolve to the fallback.
func (r *Resolver) Resolve(description string) Role {
	words := wordSet(description)
	if len(words) == 0 {
		return r.fallback
	}
	for _, role := range r.table {
		for _, kw := range role.Keywords {
			if words[strings.ToLower(kw)] {
				return role
			}
		}
	}
	return r.fallback
}

// Get returns a role by name. The Admin role is always addressable.
func (r *Resolver) Get(name string) (Role, bool) {
	role, ok := r.byName[name]
	return role, ok
}

// Admin returns the orchestrator role.
func (r *Resolver) Admin() Role {
	return adminRole
}

// Roles returns the resolution table in priority order.
func (r *Resolver) Roles() []Role {
	out := make([]Role, len(r.table))
	copy(out, r.table)
	return out
}

// wordSet lowercases and splits a description into its words. Matching
// on whole words keeps short keywords like "ci" from firing inside
// unrelated terms.
func wordSet(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
