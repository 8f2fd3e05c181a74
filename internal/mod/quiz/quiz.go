// Package quiz syncs quiz attempts answered offline.
//
// An action is one attempt, keyed by its attempt number. Partial writes are
// answered question slots; each carries the sequence check the question had
// when it was answered, so answers to questions that moved on since are
// dropped. The terminal write finishes the attempt.
package quiz

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tildaslashalef/offsync/internal/mod"
	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

const (
	// ModName is the activity module name
	ModName = "quiz"
	// Component is the tag the handler is registered under
	Component = "mod_" + ModName

	stateInProgress = "inprogress"
	stateOverdue    = "overdue"
)

// Handler syncs quiz attempts
type Handler struct {
	mod.Base
}

var _ syncpkg.Handler = (*Handler)(nil)

// New creates the quiz handler
func New(store offline.Repository, sites *syncpkg.Sites) *Handler {
	return &Handler{Base: mod.NewBase(ModName, store, sites)}
}

type attempt struct {
	ID      int64  `json:"id"`
	Attempt int    `json:"attempt"`
	State   string `json:"state"`
}

func (a *attempt) open() bool {
	return a.State == stateInProgress || a.State == stateOverdue
}

// key is the attempt number, suffixed with the state once the attempt is closed
func (a *attempt) key() string {
	key := strconv.Itoa(a.Attempt)
	if !a.open() {
		key += ":" + a.State
	}
	return key
}

type question struct {
	Slot          int `json:"slot"`
	SequenceCheck int `json:"sequencecheck"`
}

// ReconciliationKeyOf returns the attempt number of the action
func (h *Handler) ReconciliationKeyOf(action *offline.PendingAction) string {
	return strconv.Itoa(action.AttemptNumber)
}

// FetchRemoteState reads the latest attempt of the user and, while it is
// open, the sequence check of each question
func (h *Handler) FetchRemoteState(ctx context.Context, siteID string, action *offline.PendingAction) (*syncpkg.RemoteState, error) {
	state, err := h.Describe(ctx, siteID, action.EntityID)
	if err != nil || state.Gone {
		return state, err
	}

	client, err := h.Client(siteID)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Attempts []attempt `json:"attempts"`
	}
	params := map[string]any{
		"quizid":          action.EntityID,
		"userid":          action.UserID,
		"status":          "all",
		"includepreviews": true,
	}
	if err := client.ReadFresh(ctx, "mod_quiz_get_user_attempts", params, h.Tag(action.EntityID), &resp); err != nil {
		return nil, fmt.Errorf("getting attempts of quiz %d: %w", action.EntityID, err)
	}

	var latest *attempt
	for i := range resp.Attempts {
		if latest == nil || resp.Attempts[i].Attempt > latest.Attempt {
			latest = &resp.Attempts[i]
		}
	}
	if latest == nil {
		return state, nil
	}
	state.Key = latest.key()

	if !latest.open() || latest.Attempt != action.AttemptNumber {
		return state, nil
	}

	var summary struct {
		Questions []question `json:"questions"`
	}
	if err := client.ReadFresh(ctx, "mod_quiz_get_attempt_summary", map[string]any{"attemptid": latest.ID}, h.Tag(action.EntityID), &summary); err != nil {
		return nil, fmt.Errorf("getting summary of attempt %d: %w", latest.ID, err)
	}

	state.SubKeys = make(map[string]string, len(summary.Questions))
	for _, q := range summary.Questions {
		state.SubKeys[strconv.Itoa(q.Slot)] = strconv.Itoa(q.SequenceCheck)
	}
	return state, nil
}

// WritePartial saves the answers of one question slot
func (h *Handler) WritePartial(ctx context.Context, siteID string, action *offline.PendingAction, partial offline.PartialWrite) error {
	attemptID, err := attemptIDOf(action)
	if err != nil {
		return err
	}

	client, err := h.Client(siteID)
	if err != nil {
		return err
	}

	params := map[string]any{
		"attemptid": attemptID,
		"data":      mod.FormData(partial.Payload),
	}

	var resp struct {
		Status   bool            `json:"status"`
		Warnings []mod.WSWarning `json:"warnings"`
	}
	if err := client.Write(ctx, "mod_quiz_save_attempt", params, &resp); err != nil {
		return fmt.Errorf("saving slot %s: %w", partial.Key, err)
	}
	return mod.Rejected(resp.Warnings)
}

// WriteTerminal finishes the attempt
func (h *Handler) WriteTerminal(ctx context.Context, siteID string, action *offline.PendingAction) error {
	attemptID, err := attemptIDOf(action)
	if err != nil {
		return err
	}

	client, err := h.Client(siteID)
	if err != nil {
		return err
	}

	params := map[string]any{
		"attemptid":     attemptID,
		"data":          mod.FormData(mod.Map(action.Payload, "answers")),
		"finishattempt": true,
		"timeup":        mod.Bool(action.Payload, "timeup"),
	}

	var resp struct {
		State    string          `json:"state"`
		Warnings []mod.WSWarning `json:"warnings"`
	}
	if err := client.Write(ctx, "mod_quiz_process_attempt", params, &resp); err != nil {
		return fmt.Errorf("finishing attempt %d: %w", attemptID, err)
	}
	return mod.Rejected(resp.Warnings)
}

func attemptIDOf(action *offline.PendingAction) (int64, error) {
	id, ok := mod.Int64(action.Payload, "attemptid")
	if !ok || id <= 0 {
		return 0, mod.Invalid("attempt %d has no site attempt id", action.AttemptNumber)
	}
	return id, nil
}
