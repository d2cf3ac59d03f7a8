//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relaydesk/inbox/internal/testutil"
	"github.com/stretchr/testify/require"
)

const fakeAccountSID = "ACintegration"

// rejectedNumber is refused by the fake provider as an invalid destination.
const rejectedNumber = "+15550009999"

type providerRequest struct {
	To   string
	From string
	Body string
}

// fakeTwilio imitates the Twilio Messages API.
type fakeTwilio struct {
	*httptest.Server

	mu       sync.Mutex
	requests []providerRequest
	seq      atomic.Int64
}

func newFakeTwilio() *fakeTwilio {
	f := &fakeTwilio{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeTwilio) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/2010-04-01/Accounts/"+fakeAccountSID+"/Messages.json" {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	req := providerRequest{
		To:   r.PostForm.Get("To"),
		From: r.PostForm.Get("From"),
		Body: r.PostForm.Get("Body"),
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(req.To, rejectedNumber) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`))
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"sid":    fmt.Sprintf("SM%032d", f.seq.Add(1)),
		"status": "queued",
	})
}

// requestsWithBody returns the provider requests carrying body.
func (f *fakeTwilio) requestsWithBody(body string) []providerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []providerRequest
	for _, r := range f.requests {
		if r.Body == body {
			out = append(out, r)
		}
	}
	return out
}

// uniqueBody returns a message body that no other test uses.
func uniqueBody(prefix string) string {
	return prefix + " " + uuid.NewString()
}

// createContact inserts a contact directly; empty numbers are stored as NULL.
func createContact(t *testing.T, name, phone, whatsapp string) string {
	t.Helper()

	var id string
	err := testDB.QueryRow(context.Background(), `
		INSERT INTO contacts (name, phone, whatsapp)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		RETURNING id
	`, name, phone, whatsapp).Scan(&id)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = testDB.Exec(context.Background(), `DELETE FROM contacts WHERE id = $1`, id)
	})
	return id
}

// createDueMessage inserts a pending scheduled message that fell due at dueAgo in the past.
func createDueMessage(t *testing.T, contactID, channel, content string, dueAgo time.Duration) string {
	t.Helper()

	var id string
	err := testDB.QueryRow(context.Background(), `
		INSERT INTO scheduled_messages (contact_id, channel, content, scheduled_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, contactID, channel, content, time.Now().Add(-dueAgo)).Scan(&id)
	require.NoError(t, err)
	return id
}

// makeDue moves a scheduled message into the past.
func makeDue(t *testing.T, id string) {
	t.Helper()

	_, err := testDB.Exec(context.Background(),
		`UPDATE scheduled_messages SET scheduled_at = NOW() - INTERVAL '1 minute' WHERE id = $1`, id)
	require.NoError(t, err)
}

// backdateClaim moves the last status change of a scheduled message ago into the past.
func backdateClaim(t *testing.T, id string, ago time.Duration) {
	t.Helper()

	_, err := testDB.Exec(context.Background(),
		`UPDATE scheduled_messages SET updated_at = NOW() - make_interval(secs => $2) WHERE id = $1`,
		id, ago.Seconds())
	require.NoError(t, err)
}

type scheduledRow struct {
	Status    string
	LastError string
}

func getScheduled(t *testing.T, id string) scheduledRow {
	t.Helper()

	var row scheduledRow
	err := testDB.QueryRow(context.Background(),
		`SELECT status, COALESCE(last_error, '') FROM scheduled_messages WHERE id = $1`, id,
	).Scan(&row.Status, &row.LastError)
	require.NoError(t, err)
	return row
}

type historyRow struct {
	Channel   string
	Direction string
	Status    string
	Content   string
	SentAt    *time.Time
	Metadata  map[string]string
}

// historyFor returns the message history rows written for a scheduled message.
func historyFor(t *testing.T, scheduledID string) []historyRow {
	t.Helper()

	rows, err := testDB.Query(context.Background(), `
		SELECT channel, direction, status, content, sent_at, metadata
		FROM messages
		WHERE metadata->>'scheduledMessageId' = $1
	`, scheduledID)
	require.NoError(t, err)
	defer rows.Close()

	var out []historyRow
	for rows.Next() {
		var r historyRow
		require.NoError(t, rows.Scan(&r.Channel, &r.Direction, &r.Status, &r.Content, &r.SentAt, &r.Metadata))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

type sweepResponse struct {
	Success   bool      `json:"success"`
	Processed int       `json:"processed"`
	Timestamp time.Time `json:"timestamp"`
}

// runCron triggers a sweep through the cron endpoint.
func runCron(t *testing.T) sweepResponse {
	t.Helper()

	resp, err := newCronClient(t).POST("/api/cron/process-scheduled", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result sweepResponse
	testutil.DecodeJSON(t, resp, &result)
	return result
}
