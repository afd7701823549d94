package gemini

import (
	"net/url"
	"strings"
)

const (
	linkPrefix   = "=>"
	preformatTag = "```"
)

// ParseLinks extracts the gemini links of a gemtext body. Relative links
// are resolved against base, or dropped when base is empty.
func ParseLinks(body string, base string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return ExtractLinks(strings.Split(body, "\n"), base)
}

// ExtractLinks extracts the gemini links of gemtext lines, in order of
// first appearance and without duplicates. Lines inside preformatted
// blocks are skipped.
func ExtractLinks(lines []string, base string) []string {
	var baseURL *url.URL
	if base != "" {
		if u, err := url.Parse(base); err == nil && u.IsAbs() {
			baseURL = u
		}
	}

	links := []string{}
	seen := make(map[string]bool)
	preformatted := false
	for _, line := range lines {
		if strings.HasPrefix(line, preformatTag) {
			preformatted = !preformatted
			continue
		}
		if preformatted || !strings.HasPrefix(line, linkPrefix) {
			continue
		}
		target, ok := linkTarget(line)
		if !ok {
			continue
		}
		link, ok := resolveLink(target, baseURL)
		if !ok || seen[link] {
			continue
		}
		seen[link] = true
		links = append(links, link)
	}
	return links
}

// linkTarget returns the target of a "=> target [label]" line.
func linkTarget(line string) (string, bool) {
	rest := strings.TrimLeft(line[len(linkPrefix):], " \t")
	target := rest
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		target = rest[:i]
	}
	if strings.TrimSpace(target) == "" {
		return "", false
	}
	return target, true
}

// resolveLink turns a link target into an absolute gemini URI. Other
// schemes, and relative targets without base, are rejected.
func resolveLink(target string, base *url.URL) (string, bool) {
	u, err := url.Parse(iriToURI(target))
	if err != nil {
		return "", false
	}
	switch {
	case u.Scheme == "":
		if base == nil {
			return "", false
		}
		return base.ResolveReference(u).String(), true
	case u.Scheme == "gemini":
		return u.String(), true
	}
	return "", false
}
