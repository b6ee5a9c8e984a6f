package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

// Supabase stores objects in a Supabase Storage bucket using a
// service-role key. The storage client takes no context, so cancellation
// is only checked before a call starts.
type Supabase struct {
	client *storage_go.Client
	bucket string
}

func NewSupabase(baseURL, key, bucket string) *Supabase {
	if bucket == "" {
		bucket = "textbooks"
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/storage/v1"
	return &Supabase{
		client: storage_go.NewClient(endpoint, key, map[string]string{"apikey": key}),
		bucket: bucket,
	}
}

func (s *Supabase) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.DownloadFile(s.bucket, name)
	if err != nil {
		return nil, s.wrap("download", name, err)
	}
	if err := storageFailure(data); err != nil {
		return nil, s.wrap("download", name, err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("object %s exceeds %d bytes", name, MaxObjectSize)
	}
	return data, nil
}

func (s *Supabase) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := ValidName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, name, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", s.wrap("upload", name, err)
	}
	return s.client.GetPublicUrl(s.bucket, name).SignedURL, nil
}

func (s *Supabase) Delete(ctx context.Context, name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, []string{name}); err != nil {
		return s.wrap("delete", name, err)
	}
	return nil
}

func (s *Supabase) wrap(op, name string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return ErrNotFound
	}
	return fmt.Errorf("supabase %s %s/%s: %w", op, s.bucket, name, err)
}

// storageFailure recognises the JSON error envelope Storage sends in place
// of object bytes.
func storageFailure(data []byte) error {
	if len(data) == 0 || data[0] != '{' || len(data) > 4<<10 {
		return nil
	}
	var env struct {
		StatusCode string `json:"statusCode"`
		Error      string `json:"error"`
		Message    string `json:"message"`
	}
	if json.Unmarshal(data, &env) != nil || env.StatusCode == "" || env.Error == "" {
		return nil
	}
	return fmt.Errorf("status %s: %s: %s", env.StatusCode, env.Error, env.Message)
}
