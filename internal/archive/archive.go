// Package archive persists finished conversations.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	storage "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"

	"github.com/chadiek/voiceturn/internal/ledger"
)

// Archiver stores the turns of one finished session.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, turns []ledger.Turn) error
}

// Exchange is one user message and the reply it received.
type Exchange struct {
	Message  string `json:"message"`
	Response string `json:"response"`
}

// Record is the stored chat log.
type Record struct {
	ChatID   string     `json:"chat_id"`
	Messages []Exchange `json:"messages"`
}

// NewRecord pairs each user turn with the assistant turn that follows it. A
// user turn without a reply keeps an empty response.
func NewRecord(sessionID string, turns []ledger.Turn) Record {
	rec := Record{ChatID: sessionID, Messages: []Exchange{}}
	for _, t := range turns {
		switch t.Role {
		case ledger.User:
			rec.Messages = append(rec.Messages, Exchange{Message: t.Text})
		case ledger.Assistant:
			n := len(rec.Messages)
			if n == 0 || rec.Messages[n-1].Response != "" {
				rec.Messages = append(rec.Messages, Exchange{Response: t.Text})
				continue
			}
			rec.Messages[n-1].Response = t.Text
		}
	}
	return rec
}

// ObjectKey is the storage path of a session's chat log.
func ObjectKey(sessionID string) string { return "chats/" + sessionID + ".json" }

// Uploader is the storage operation the archive needs.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// Store archives chat logs through an Uploader.
type Store struct {
	up  Uploader
	log zerolog.Logger
}

func NewStore(up Uploader, log zerolog.Logger) *Store {
	return &Store{up: up, log: log}
}

func (s *Store) Archive(ctx context.Context, sessionID string, turns []ledger.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewRecord(sessionID, turns))
	if err != nil {
		return fmt.Errorf("archive: encode: %w", err)
	}
	key := ObjectKey(sessionID)
	if err := s.up.Upload(key, "application/json", data); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	s.log.Info().Str("key", key).Int("turns", len(turns)).Msg("conversation archived")
	return nil
}

// Nop discards conversations.
type Nop struct{}

func (Nop) Archive(context.Context, string, []ledger.Turn) error { return nil }

// SupabaseConfig locates the storage bucket.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseStorage uploads objects to a Supabase storage bucket. Existing
// objects are overwritten so a session can be archived again.
type SupabaseStorage struct {
	client *supabase.Client
	bucket string
	// the storage client keeps file options in shared headers
	mu sync.Mutex
}

func NewSupabaseStorage(cfg SupabaseConfig) (*SupabaseStorage, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStorage{client: client, bucket: cfg.Bucket}, nil
}

func (s *SupabaseStorage) Upload(key, contentType string, data []byte) error {
	upsert := true
	opts := storage.FileOptions{ContentType: &contentType, Upsert: &upsert}
	s.mu.Lock()
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), opts)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}
