package scraper

import (
	"regexp"
	"strings"
)

// LargeImageExt is the extension of the full-quality image variant served by
// the Shopee CDN.
const LargeImageExt = ".webp"

var (
	resizePattern = regexp.MustCompile(`@resize_w\d+(_nl)?`)
	imagePattern  = regexp.MustCompile(`https://[^\s"'\\]+\.webp`)
	extPattern    = regexp.MustCompile(`\.[\p{L}\p{N}_]+$`)
)

// ToLarge rewrites a thumbnail URL into its full-resolution variant: resize
// directives are removed and the file extension becomes .webp. Scheme, host,
// query and fragment are kept as they are. ToLarge is idempotent.
func ToLarge(raw string) string {
	if raw == "" {
		return raw
	}

	// Removing one directive can splice the halves of another together.
	u := raw
	for resizePattern.MatchString(u) {
		u = resizePattern.ReplaceAllString(u, "")
	}

	if strings.HasSuffix(strings.ToLower(u), LargeImageExt) {
		return u
	}

	base, suffix := u, ""
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		base, suffix = u[:i], u[i:]
	}

	start := pathStart(base)
	if start < 0 || strings.HasSuffix(base, "/") {
		return u
	}

	dir, file := base[:start], base[start:]
	if i := strings.LastIndex(file, "/"); i >= 0 {
		dir, file = dir+file[:i+1], file[i+1:]
	}

	if extPattern.MatchString(file) {
		file = extPattern.ReplaceAllString(file, LargeImageExt)
	} else {
		file += LargeImageExt
	}

	return dir + file + suffix
}

// pathStart returns the index where the path of u begins, or -1 when an
// absolute URL has no path. A relative reference is all path.
func pathStart(u string) int {
	i := strings.Index(u, "://")
	if i < 0 {
		return 0
	}
	rest := i + len("://")
	i = strings.Index(u[rest:], "/")
	if i < 0 {
		return -1
	}
	return rest + i
}

// ExtractImageURLs finds every .webp URL in the page markup, upgrades each to
// its large variant and removes duplicates, keeping first-seen order.
func ExtractImageURLs(html string) []string {
	matches := imagePattern.FindAllString(html, -1)
	return dedupe(matches, ToLarge)
}

func dedupe(values []string, normalize func(string) string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))

	for _, v := range values {
		if normalize != nil {
			v = normalize(v)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}
