package domain

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// JobKey derives the dedup/cache key for a submission. Two submissions that
// normalize to the same key share one execution and one cache entry.
func JobKey(kind JobKind, target string) (string, error) {
	norm, err := NormalizeTarget(kind, target)
	if err != nil {
		return "", err
	}
	return string(kind) + ":" + norm, nil
}

// NormalizeTarget canonicalizes the job input so trivially different
// spellings of the same target collapse onto one key.
func NormalizeTarget(kind JobKind, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("empty target for %s job", kind)
	}

	switch kind {
	case JobKindNetworkScan:
		// Hostnames and IPs are case-insensitive.
		return strings.ToLower(target), nil

	case JobKindFileLookup:
		return filepath.Clean(target), nil

	case JobKindURLLookup:
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid url %q: %w", target, err)
		}
		if u.Scheme == "" {
			u, err = url.Parse("https://" + target)
			if err != nil {
				return "", fmt.Errorf("invalid url %q: %w", target, err)
			}
		}
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		// Default ports carry no information.
		if (u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) ||
			(u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) {
			u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
		}
		if u.Path == "/" {
			u.Path = ""
		}
		return u.String(), nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
