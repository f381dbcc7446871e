// Package normalize maps scraper result items, whose field names drift between
// actor versions, onto the canonical profile fields.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Candidate keys per field, in priority order. A dotted key reads a nested object.
var (
	HandleKeys    = []string{"username", "handle", "user.username"}
	FullNameKeys  = []string{"fullName", "name", "user.fullName"}
	AvatarKeys    = []string{"profilePicUrl", "avatar", "user.profilePicUrl"}
	BioKeys       = []string{"biography", "bio", "user.biography"}
	FollowersKeys = []string{"followersCount", "followers", "user.followersCount"}
	FollowingKeys = []string{"followingCount", "following", "user.followingCount"}
	SourceKeys    = []string{"ownerUsername", "sourceUsername", "inputUsername"}
)

// Profile is the canonical shape of one item. Source is the target handle the
// item was scraped from, when the provider reports it.
type Profile struct {
	Handle         string
	FullName       string
	AvatarURL      string
	Bio            string
	FollowersCount int64
	FollowingCount int64
	Source         string
}

// Item maps one result item. ok is false when no handle resolves; such items
// are dropped by callers and not counted.
func Item(item map[string]any) (p Profile, ok bool) {
	p.Handle = firstHandle(item, HandleKeys)
	if p.Handle == "" {
		return Profile{}, false
	}
	p.FullName = cleanText(firstString(item, FullNameKeys))
	p.AvatarURL = strings.TrimSpace(firstString(item, AvatarKeys))
	p.Bio = cleanBio(firstString(item, BioKeys))
	p.FollowersCount = firstCount(item, FollowersKeys)
	p.FollowingCount = firstCount(item, FollowingKeys)
	p.Source = firstHandle(item, SourceKeys)
	return p, true
}

func lookup(item map[string]any, key string) (any, bool) {
	var cur any = item
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func firstString(item map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := lookup(item, k)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// firstHandle is firstString over cleaned handles, so a bare "@" falls through.
func firstHandle(item map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := lookup(item, k)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			if h := cleanHandle(s); h != "" {
				return h
			}
		}
	}
	return ""
}

// firstCount takes the first positive count. Zero falls through to the next
// candidate, matching how an absent field and a defaulted one look alike.
func firstCount(item map[string]any, keys []string) int64 {
	for _, k := range keys {
		v, ok := lookup(item, k)
		if !ok {
			continue
		}
		if n, ok := toInt(v); ok && n > 0 {
			return n
		}
	}
	return 0
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return int64(f), err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func cleanHandle(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// cleanBio keeps line breaks, which carry meaning in bios, but reduces HTML
// fragments some actor versions emit to their text.
func cleanBio(s string) string {
	s = strings.TrimSpace(s)
	if !looksLikeHTML(s) {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("br").ReplaceWithHtml("\n")
	var lines []string
	for _, ln := range strings.Split(doc.Text(), "\n") {
		if ln = cleanText(ln); ln != "" {
			lines = append(lines, ln)
		}
	}
	return strings.Join(lines, "\n")
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}
