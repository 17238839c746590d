package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
)

const sniffLen = 512

var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// File is an uploaded proof of payment as received from the client.
type File struct {
	Name   string
	Reader io.Reader
}

// Store keeps proof files on local disk under root, one directory per
// payment. Files are written once and never overwritten.
type Store struct {
	root     string
	maxBytes int64
}

func NewStore(root string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("proof.NewStore: %w", err)
	}
	return &Store{root: root, maxBytes: maxBytes}, nil
}

// Store validates and persists f, returning an opaque handle of the form
// "<paymentID>/<ulid><ext>".
func (s *Store) Store(ctx context.Context, paymentID uuid.UUID, f File) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("Store: read: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", fmt.Errorf("Store: empty file: %w", domain.ErrUnsupportedProofType)
	}

	contentType := http.DetectContentType(head)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", fmt.Errorf("Store: %s: %w", contentType, domain.ErrUnsupportedProofType)
	}

	dir := filepath.Join(s.root, paymentID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("Store: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("Store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	body := io.MultiReader(bytes.NewReader(head), f.Reader)
	written, err := io.Copy(tmp, io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("Store: write: %w", err)
	}
	if written > s.maxBytes {
		return "", fmt.Errorf("Store: %d bytes: %w", written, domain.ErrProofTooLarge)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("Store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("Store: close: %w", err)
	}

	name := ulid.Make().String() + ext
	final := filepath.Join(dir, name)
	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("Store: %s already exists", name)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("Store: rename: %w", err)
	}
	committed = true

	handle := paymentID.String() + "/" + name
	logging.FromContext(ctx).Info("proof stored",
		"payment_id", paymentID,
		"handle", handle,
		"content_type", contentType,
		"bytes", written,
	)
	return handle, nil
}

// Verify checks that handle is well formed, belongs to paymentID and exists.
func (s *Store) Verify(handle string, paymentID uuid.UUID) error {
	owner, path, err := s.resolve(handle)
	if err != nil {
		return fmt.Errorf("Verify: %w", err)
	}
	if owner != paymentID {
		return fmt.Errorf("Verify: handle belongs to another payment: %w", domain.ErrProofNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("Verify: %w", domain.ErrProofNotFound)
	}
	return nil
}

// Open returns the stored file and its content type.
func (s *Store) Open(handle string) (io.ReadCloser, string, error) {
	_, path, err := s.resolve(handle)
	if err != nil {
		return nil, "", fmt.Errorf("Open: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("Open: %w", domain.ErrProofNotFound)
		}
		return nil, "", fmt.Errorf("Open: %w", err)
	}
	return f, contentTypeFor(filepath.Ext(path)), nil
}

// CollectOrphans removes proofs older than olderThan that no payment record
// references. It returns the number of files removed.
func (s *Store) CollectOrphans(ctx context.Context, referenced func(ctx context.Context, handle string) (bool, error), olderThan time.Duration) (int, error) {
	log := logging.FromContext(ctx)
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		handle := filepath.ToSlash(rel)

		if strings.HasPrefix(d.Name(), ".upload-") {
			log.Info("removing abandoned upload", "path", handle)
			removed++
			return os.Remove(path)
		}

		if _, _, err := s.resolve(handle); err != nil {
			return nil
		}
		ok, err := referenced(ctx, handle)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		log.Info("removing orphaned proof", "handle", handle)
		removed++
		return os.Remove(path)
	})
	if err != nil {
		return removed, fmt.Errorf("CollectOrphans: %w", err)
	}
	return removed, nil
}

func (s *Store) resolve(handle string) (uuid.UUID, string, error) {
	dir, name, ok := strings.Cut(handle, "/")
	if !ok || strings.Contains(name, "/") {
		return uuid.Nil, "", domain.ErrProofNotFound
	}
	owner, err := uuid.Parse(dir)
	if err != nil {
		return uuid.Nil, "", domain.ErrProofNotFound
	}
	ext := filepath.Ext(name)
	if contentTypeFor(ext) == "" {
		return uuid.Nil, "", domain.ErrProofNotFound
	}
	if _, err := ulid.ParseStrict(strings.TrimSuffix(name, ext)); err != nil {
		return uuid.Nil, "", domain.ErrProofNotFound
	}
	return owner, filepath.Join(s.root, owner.String(), name), nil
}

func contentTypeFor(ext string) string {
	for ct, e := range allowedTypes {
		if e == ext {
			return ct
		}
	}
	return ""
}
