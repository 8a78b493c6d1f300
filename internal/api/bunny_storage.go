package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"modtok/internal/config"
)

var errStorageNotConfigured = errors.New("BunnyCDN storage not configured")

// ObjectStorage stores uploaded media objects.
type ObjectStorage interface {
	Put(ctx context.Context, objectPath string, payload []byte, contentType string) error
	Delete(ctx context.Context, objectPath string) error
	PublicURL(objectPath string) string
}

type bunnyStorage struct {
	zone      string
	accessKey string
	pullBase  string
	baseURL   string
	client    *http.Client
}

func newBunnyStorage(cfg config.BunnyConfig) *bunnyStorage {
	return &bunnyStorage{
		zone:      strings.TrimSpace(cfg.StorageZone),
		accessKey: strings.TrimSpace(cfg.StorageKey),
		pullBase:  strings.TrimRight(strings.TrimSpace(cfg.PullBaseURL), "/"),
		baseURL:   "https://storage.bunnycdn.com",
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *bunnyStorage) configured() bool {
	return b.zone != "" && b.accessKey != "" && b.pullBase != ""
}

func (b *bunnyStorage) PublicURL(objectPath string) string {
	return b.pullBase + "/" + strings.TrimLeft(objectPath, "/")
}

func (b *bunnyStorage) objectURL(objectPath string) string {
	return b.baseURL + "/" + url.PathEscape(b.zone) + "/" + bunnyEscapePath(objectPath)
}

func (b *bunnyStorage) Put(ctx context.Context, objectPath string, payload []byte, contentType string) error {
	if !b.configured() {
		return errStorageNotConfigured
	}
	if len(payload) == 0 {
		return errors.New("empty payload")
	}
	if contentType == "" {
		contentType = http.DetectContentType(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.objectURL(objectPath), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("AccessKey", b.accessKey)
	req.Header.Set("Content-Type", contentType)
	return b.do(req, "upload")
}

// Delete treats a missing object as already deleted.
func (b *bunnyStorage) Delete(ctx context.Context, objectPath string) error {
	if !b.configured() {
		return errStorageNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.objectURL(objectPath), nil)
	if err != nil {
		return err
	}
	req.Header.Set("AccessKey", b.accessKey)
	err = b.do(req, "delete")
	var se *statusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (b *bunnyStorage) do(req *http.Request, op string) error {
	res, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = res.Status
	}
	return fmt.Errorf("bunny %s failed: %w", op, &statusError{Status: res.StatusCode, Message: msg})
}

func bunnyEscapePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, url.PathEscape(part))
	}
	return strings.Join(out, "/")
}
