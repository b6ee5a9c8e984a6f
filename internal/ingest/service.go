package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/metrics"
	"github.com/kalambet/tutord/internal/objectstore"
	"github.com/kalambet/tutord/internal/storage"
)

const fetchTimeout = 30 * time.Second

// ErrInvalidRequest marks client input errors.
var ErrInvalidRequest = errors.New("invalid request")

// TextbookStore is the persistence ingestion needs.
type TextbookStore interface {
	GetSubject(ctx context.Context, idOrName string) (storage.Subject, error)
	CreateTextbook(ctx context.Context, tb storage.Textbook, chunks []storage.TextbookChunk, activity *storage.Activity) error
	GetTextbook(ctx context.Context, id string) (storage.Textbook, error)
	DeleteTextbook(ctx context.Context, id string) error
}

type Request struct {
	UserID    string `json:"userId" validate:"required"`
	SubjectID string `json:"subjectId" validate:"required"`
	Title     string `json:"title" validate:"required"`
	FileURL   string `json:"fileUrl"`
	FileName  string `json:"fileName"`
}

type Result struct {
	Success       bool   `json:"success"`
	TextbookID    string `json:"textbookId"`
	ChunksCreated int    `json:"chunksCreated"`
}

// Service turns uploaded textbooks into stored chunks.
type Service struct {
	store      TextbookStore
	objects    objectstore.Store
	httpClient *http.Client
	metrics    *metrics.Recorder
	now        func() time.Time
}

// NewService creates a Service. objects may be nil, in which case files are
// only fetched by URL.
func NewService(store TextbookStore, objects objectstore.Store, httpClient *http.Client, rec *metrics.Recorder) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	return &Service{store: store, objects: objects, httpClient: httpClient, metrics: rec, now: time.Now}
}

// Process downloads the file, extracts and chunks its text, and stores the
// textbook, its chunks and a content_covered activity in one transaction.
func (s *Service) Process(ctx context.Context, req Request) (Result, error) {
	if req.UserID == "" || req.SubjectID == "" || strings.TrimSpace(req.Title) == "" {
		return Result{}, fmt.Errorf("userId, subjectId and title are required: %w", ErrInvalidRequest)
	}
	if req.FileName == "" && req.FileURL == "" {
		return Result{}, fmt.Errorf("fileName or fileUrl is required: %w", ErrInvalidRequest)
	}

	subject, err := s.store.GetSubject(ctx, req.SubjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("unknown subject %q: %w", req.SubjectID, ErrInvalidRequest)
	}
	if err != nil {
		return Result{}, fmt.Errorf("loading subject: %w", err)
	}

	data, err := s.fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	text := Extract(data)
	if len(text) < MinChunkLen {
		text = Placeholder(req.Title)
	}
	pieces := Chunk(text)
	s.metrics.Since("ingest.extract", start)
	slog.Info("textbook extracted", "title", req.Title, "bytes", len(data), "chars", len(text), "chunks", len(pieces))

	sample, err := json.Marshal(map[string]string{"raw_text": Sample(text)})
	if err != nil {
		return Result{}, fmt.Errorf("marshalling content sample: %w", err)
	}

	now := s.now()
	tb := storage.Textbook{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		SubjectID:  subject.ID,
		Title:      req.Title,
		FileURL:    req.FileURL,
		FileName:   req.FileName,
		Content:    string(sample),
		UploadedAt: now,
	}
	chunks := make([]storage.TextbookChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = storage.TextbookChunk{
			ID:         uuid.New().String(),
			TextbookID: tb.ID,
			ChunkIndex: p.Index,
			Content:    p.Content,
			PageNumber: p.Page,
			CreatedAt:  now,
		}
	}

	var activity *storage.Activity
	if len(chunks) > 0 {
		cd, _ := json.Marshal(map[string]any{"textbook_id": tb.ID, "title": tb.Title, "chunks": len(chunks)})
		activity = &storage.Activity{
			ID:          uuid.New().String(),
			UserID:      req.UserID,
			SubjectID:   subject.ID,
			Type:        storage.ActivityContentCovered,
			Points:      len(chunks),
			ContentData: string(cd),
			CreatedAt:   now,
		}
	}

	if err := s.store.CreateTextbook(ctx, tb, chunks, activity); err != nil {
		return Result{}, fmt.Errorf("saving textbook: %w", err)
	}
	return Result{Success: true, TextbookID: tb.ID, ChunksCreated: len(chunks)}, nil
}

// Delete removes a user's textbook and its chunks, then its stored file.
// A failure to delete the file is logged only.
func (s *Service) Delete(ctx context.Context, textbookID, userID string) error {
	tb, err := s.store.GetTextbook(ctx, textbookID)
	if err != nil {
		return err
	}
	if userID != "" && tb.UserID != userID {
		return storage.ErrNotFound
	}
	if err := s.store.DeleteTextbook(ctx, textbookID); err != nil {
		return err
	}
	if tb.FileName != "" && s.objects != nil {
		if err := s.objects.Delete(ctx, tb.FileName); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			slog.Warn("deleting textbook file failed", "textbook_id", tb.ID, "file", tb.FileName, "error", err)
		}
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, req Request) ([]byte, error) {
	start := time.Now()
	defer s.metrics.Since("ingest.fetch", start)

	if req.FileName != "" && s.objects != nil {
		data, err := s.objects.Get(ctx, req.FileName)
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("file %q not found: %w", req.FileName, ErrInvalidRequest)
		}
		if err != nil {
			return nil, fmt.Errorf("downloading file: %w", err)
		}
		return data, nil
	}
	if req.FileURL == "" {
		return nil, fmt.Errorf("no object store configured for fileName: %w", ErrInvalidRequest)
	}
	return s.fetchURL(ctx, req.FileURL)
}

func (s *Service) fetchURL(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid fileUrl: %v: %w", err, ErrInvalidRequest)
	}
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching file: url returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, objectstore.MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if len(body) > objectstore.MaxObjectSize {
		return nil, fmt.Errorf("file exceeds %d bytes: %w", objectstore.MaxObjectSize, ErrInvalidRequest)
	}
	return body, nil
}
