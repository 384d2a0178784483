package model

import "sort"

// App is the observable post-deploy state of an application: every running
// Service instance, the set of owners, and any opaque user-defined
// parameters supplied at deploy time. It is both a backend return value and
// the persisted result of a successful task.
type App struct {
	Name     AppName
	Services []Service
	Owners   []string

	// UserDefinedParameters is opaque JSON decoded into a generic value
	// (map[string]interface{} / []interface{} / scalars), validated
	// against a configured schema if one was set.
	UserDefinedParameters interface{}
}

// NormalizeOwners deduplicates and sorts an owner list, matching the
// dedup+sort normalization required of App.Owners and of the merge step
// for two CreateOrUpdate tasks.
func NormalizeOwners(owners []string) []string {
	seen := make(map[string]bool, len(owners))
	out := make([]string, 0, len(owners))
	for _, o := range owners {
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}
