// Package social implements the leaderboard, friend requests, conversation
// feedback and the per-day activity chart.
package social

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/storage"
)

// ErrInvalid marks requests that can never succeed, such as befriending
// yourself.
var ErrInvalid = errors.New("invalid request")

const (
	SortTotal    = "total"
	SortContent  = "content"
	SortActivity = "activity"
)

const (
	FeedbackPersona  = "persona"
	FeedbackAccuracy = "accuracy"
)

var personaValues = map[string]bool{"too_casual": true, "too_formal": true, "just_right": true}

const (
	defaultChartDays = 7
	maxChartDays     = 90
	chartDateLayout  = "Jan 2"
	unknownName      = "Unknown"
)

type Store interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
	ProfileNames(ctx context.Context, ids []string) (map[string]string, error)
	PointTotalsFor(ctx context.Context, userIDs []string) (map[string]storage.PointTotals, error)
	CreateFriendRequest(ctx context.Context, fr storage.FriendRequest) error
	GetFriendRequest(ctx context.Context, id string) (storage.FriendRequest, error)
	ResolveFriendRequest(ctx context.Context, id, status string, at time.Time) error
	PendingRequestsFor(ctx context.Context, userID string) ([]storage.FriendRequest, error)
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	AddFeedback(ctx context.Context, f storage.Feedback) error
	ActivitySince(ctx context.Context, userID string, since time.Time) ([]storage.Activity, error)
}

type Entry struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	ContentPoints  int    `json:"content_points"`
	ActivityPoints int    `json:"activity_points"`
	TotalPoints    int    `json:"total_points"`
	Rank           int    `json:"rank"`
	IsCurrentUser  bool   `json:"isCurrentUser"`
}

type Friend struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type PendingRequest struct {
	storage.FriendRequest
	SenderName string `json:"sender_name"`
}

type Friends struct {
	Friends  []Friend         `json:"friends"`
	Requests []PendingRequest `json:"requests"`
}

type DayActivity struct {
	Date     string `json:"date"`
	Messages int    `json:"messages"`
	Quizzes  int    `json:"quizzes"`
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Leaderboard ranks the user and their friends by the chosen points column.
// Unknown sort keys rank by total.
func (s *Service) Leaderboard(ctx context.Context, userID, sortBy string) ([]Entry, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required: %w", ErrInvalid)
	}
	friends, err := s.store.FriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading friends: %w", err)
	}
	ids := append([]string{userID}, friends...)

	names, err := s.store.ProfileNames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading names: %w", err)
	}
	totals, err := s.store.PointTotalsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading points: %w", err)
	}

	entries := make([]Entry, len(ids))
	for i, id := range ids {
		t := totals[id]
		entries[i] = Entry{
			UserID:         id,
			Name:           nameOr(names, id),
			ContentPoints:  t.Content,
			ActivityPoints: t.Activity,
			TotalPoints:    t.Content + t.Activity,
			IsCurrentUser:  id == userID,
		}
	}

	key := func(e Entry) int { return e.TotalPoints }
	switch sortBy {
	case SortContent:
		key = func(e Entry) int { return e.ContentPoints }
	case SortActivity:
		key = func(e Entry) int { return e.ActivityPoints }
	}
	sort.SliceStable(entries, func(i, j int) bool { return key(entries[i]) > key(entries[j]) })
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (s *Service) SendFriendRequest(ctx context.Context, senderID, receiverID string) (storage.FriendRequest, error) {
	if senderID == "" || receiverID == "" {
		return storage.FriendRequest{}, fmt.Errorf("senderId and receiverId are required: %w", ErrInvalid)
	}
	if senderID == receiverID {
		return storage.FriendRequest{}, fmt.Errorf("cannot send a friend request to yourself: %w", ErrInvalid)
	}
	now := s.now()
	fr := storage.FriendRequest{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     storage.RequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateFriendRequest(ctx, fr); err != nil {
		return storage.FriendRequest{}, err
	}
	return fr, nil
}

// RespondFriendRequest accepts or rejects a pending request. Only its
// receiver may respond; anyone else sees it as missing.
func (s *Service) RespondFriendRequest(ctx context.Context, requestID, userID string, accept bool) (storage.FriendRequest, error) {
	fr, err := s.store.GetFriendRequest(ctx, requestID)
	if err != nil {
		return storage.FriendRequest{}, err
	}
	if fr.ReceiverID != userID {
		return storage.FriendRequest{}, storage.ErrNotFound
	}
	status := storage.RequestRejected
	if accept {
		status = storage.RequestAccepted
	}
	now := s.now()
	if err := s.store.ResolveFriendRequest(ctx, requestID, status, now); err != nil {
		return storage.FriendRequest{}, err
	}
	fr.Status = status
	fr.UpdatedAt = now
	return fr, nil
}

func (s *Service) ListFriends(ctx context.Context, userID string) (Friends, error) {
	if userID == "" {
		return Friends{}, fmt.Errorf("userId is required: %w", ErrInvalid)
	}
	ids, err := s.store.FriendIDs(ctx, userID)
	if err != nil {
		return Friends{}, fmt.Errorf("loading friends: %w", err)
	}
	pending, err := s.store.PendingRequestsFor(ctx, userID)
	if err != nil {
		return Friends{}, fmt.Errorf("loading requests: %w", err)
	}

	lookup := append([]string{}, ids...)
	for _, fr := range pending {
		lookup = append(lookup, fr.SenderID)
	}
	names, err := s.store.ProfileNames(ctx, lookup)
	if err != nil {
		return Friends{}, fmt.Errorf("loading names: %w", err)
	}

	out := Friends{Friends: make([]Friend, 0, len(ids)), Requests: make([]PendingRequest, 0, len(pending))}
	for _, id := range ids {
		out.Friends = append(out.Friends, Friend{UserID: id, Name: nameOr(names, id)})
	}
	for _, fr := range pending {
		out.Requests = append(out.Requests, PendingRequest{FriendRequest: fr, SenderName: nameOr(names, fr.SenderID)})
	}
	return out, nil
}

// SubmitFeedback stores feedback on a conversation the user owns. Accuracy
// feedback always records the value "inaccurate".
func (s *Service) SubmitFeedback(ctx context.Context, f storage.Feedback) (storage.Feedback, error) {
	switch f.Type {
	case FeedbackPersona:
		if !personaValues[f.Value] {
			return storage.Feedback{}, fmt.Errorf("invalid persona feedback %q: %w", f.Value, ErrInvalid)
		}
	case FeedbackAccuracy:
		f.Value = "inaccurate"
	default:
		return storage.Feedback{}, fmt.Errorf("invalid feedback type %q: %w", f.Type, ErrInvalid)
	}

	conv, err := s.store.GetConversation(ctx, f.ConversationID)
	if err != nil {
		return storage.Feedback{}, err
	}
	if conv.UserID != f.UserID {
		return storage.Feedback{}, storage.ErrNotFound
	}

	f.ID = uuid.New().String()
	f.CreatedAt = s.now()
	if err := s.store.AddFeedback(ctx, f); err != nil {
		return storage.Feedback{}, fmt.Errorf("saving feedback: %w", err)
	}
	return f, nil
}

// ActivityChart counts message and quiz activity per local calendar day for
// the last days days, oldest first. Days without activity are zero.
func (s *Service) ActivityChart(ctx context.Context, userID string, days int) ([]DayActivity, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required: %w", ErrInvalid)
	}
	if days <= 0 {
		days = defaultChartDays
	}
	days = min(days, maxChartDays)

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := today.AddDate(0, 0, -(days - 1))

	activity, err := s.store.ActivitySince(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("loading activity: %w", err)
	}

	chart := make([]DayActivity, days)
	index := make(map[string]int, days)
	for i := range chart {
		label := start.AddDate(0, 0, i).Format(chartDateLayout)
		chart[i].Date = label
		index[label] = i
	}
	for _, a := range activity {
		i, ok := index[a.CreatedAt.In(now.Location()).Format(chartDateLayout)]
		if !ok {
			continue
		}
		switch a.Type {
		case storage.ActivityMessage:
			chart[i].Messages++
		case storage.ActivityQuiz:
			chart[i].Quizzes++
		}
	}
	return chart, nil
}

func nameOr(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return unknownName
}
