package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Profile pictures come from signed CDN URLs that expire within days, so the
// bytes are copied into the store the first time a profile is seen.

const maxAvatarBytes = 512 * 1024

func AvatarKeyFromURL(u string) string {
	// the signature query changes between scrapes of the same picture
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	h := sha256.Sum256([]byte(u))
	return hex.EncodeToString(h[:])
}

func avatarHostAllowed(host string) bool {
	host = strings.ToLower(host)
	return strings.HasSuffix(host, ".cdninstagram.com") ||
		strings.HasSuffix(host, ".fbcdn.net") ||
		host == "cdninstagram.com"
}

// CacheAvatar fetches raw and stores it under its key. An empty key with a nil
// error means the URL was skipped (foreign host, not an image, too large).
func (s *Store) CacheAvatar(ctx context.Context, client *http.Client, raw string) (key string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	pu, err := url.Parse(raw)
	if err != nil || pu.Scheme == "" || pu.Host == "" {
		return "", nil
	}
	if !avatarHostAllowed(pu.Hostname()) {
		return "", nil
	}

	key = AvatarKeyFromURL(raw)

	var exists int
	e := s.queryRow(ctx, `SELECT 1 FROM avatars WHERE key = ? LIMIT 1;`, key).Scan(&exists)
	if e == nil {
		return key, nil
	}
	if !errors.Is(e, sql.ErrNoRows) {
		return "", e
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch avatar: %s", resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if len(b) == 0 || len(b) > maxAvatarBytes {
		return "", nil
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(b)
		if !strings.HasPrefix(ct, "image/") {
			return "", nil
		}
	}

	if _, err := s.exec(ctx, `
INSERT INTO avatars (key, content_type, bytes, fetched_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (key) DO NOTHING;`, key, ct, b, s.stamp()); err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}
	return key, nil
}

func (s *Store) Avatar(ctx context.Context, key string) (contentType string, b []byte, err error) {
	err = s.queryRow(ctx, `SELECT content_type, bytes FROM avatars WHERE key = ? LIMIT 1;`, key).Scan(&contentType, &b)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	return contentType, b, err
}
