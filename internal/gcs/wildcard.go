package gcs

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ObjectLister lists object names under a bucket prefix. Satisfied by Client;
// tests substitute an in-memory fake.
type ObjectLister interface {
	ListObjectNames(ctx context.Context, bucket, prefix string) ([]string, error)
}

// ParseGSPath splits a gs://bucket/name path into bucket and object name.
func ParseGSPath(path string) (bucket, name string, err error) {
	trimmed := strings.TrimPrefix(path, "gs://")
	if trimmed == path {
		return "", "", fmt.Errorf("path %q is not a gs:// path", path)
	}
	bucket, name, _ = strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("path %q has no bucket", path)
	}
	return bucket, name, nil
}

// ResolvePattern materializes a glob-style gs:// path containing at most one
// `*` token into concrete paths.
//
// When explicit is non-empty it is treated as a comma-separated list of
// values substituted for the wildcard, skipping the listing call entirely.
// Otherwise objects under the pattern's literal prefix are listed and the
// wildcard values are extracted with a derived regular expression. The
// wildcard never crosses a path separator.
//
// A pattern that matches nothing resolves to an empty list; callers decide
// how loudly to surface that.
func ResolvePattern(ctx context.Context, lister ObjectLister, pattern, explicit string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}

	stars := strings.Count(pattern, "*")
	if stars > 1 {
		return nil, fmt.Errorf("pattern %q must contain at most one wildcard", pattern)
	}
	if stars == 0 {
		return []string{pattern}, nil
	}

	if explicit = strings.TrimSpace(explicit); explicit != "" {
		var resolved []string
		for _, value := range strings.Split(explicit, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			resolved = append(resolved, strings.Replace(pattern, "*", value, 1))
		}
		return dedupeSorted(resolved), nil
	}

	bucket, objectPattern, err := ParseGSPath(pattern)
	if err != nil {
		return nil, err
	}

	starIndex := strings.Index(objectPattern, "*")
	literalPrefix := objectPattern[:starIndex]
	matcher, err := regexp.Compile("^" + regexp.QuoteMeta(literalPrefix) + `([^/]*)` + regexp.QuoteMeta(objectPattern[starIndex+1:]) + "$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	names, err := lister.ListObjectNames(ctx, bucket, literalPrefix)
	if err != nil {
		return nil, err
	}

	var resolved []string
	for _, name := range names {
		if matcher.MatchString(name) {
			resolved = append(resolved, "gs://"+bucket+"/"+name)
		}
	}
	return dedupeSorted(resolved), nil
}

// JoinPaths renders a resolved path list in the comma-joined form the remote
// jobs consume.
func JoinPaths(paths []string) string {
	return strings.Join(paths, ",")
}

// SplitPaths parses a comma-joined path list back into its components.
func SplitPaths(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	var paths []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			paths = append(paths, part)
		}
	}
	return paths
}

// SortedUnique sorts a path list and drops duplicates. Resolution output is
// always normalized this way so results are independent of listing order.
func SortedUnique(paths []string) []string {
	return dedupeSorted(paths)
}

func dedupeSorted(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(paths))
	unique := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		unique = append(unique, path)
	}
	sort.Strings(unique)
	return unique
}
