package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"
)

// Test_VoterStories tests the stories of a small election end-to-end.
// These tests won't check the nitty-gritty details or edge cases, the
// package level tests do that.
func Test_VoterStories(t *testing.T) {
	t.Run("a small election", testEnv(func(t *testing.T) {
		// runAppForTest waits for the app to be up and stops it after the test finishes.
		logs := runAppForTest(t)

		c := newClient()

		var adminToken, voterToken string

		t.Run("the admin registers and logs in", func(t *testing.T) {
			c.mustPostJSON(t, "/api/accounts", "", map[string]any{
				"name":        "Edna Admin",
				"email":       "admin@example.com",
				"age":         52,
				"address":     "1 Town Hall Square",
				"civicNumber": "900000001",
				"password":    "reallyStrongPassword1",
				"role":        "admin",
			}, http.StatusCreated)

			body := c.mustPostJSON(t, "/api/sessions", "", map[string]any{
				"civicNumber": "900000001",
				"password":    "reallyStrongPassword1",
			}, http.StatusOK)

			adminToken = tokenFromLogin(t, body)
		})

		var candidateID string

		t.Run("the admin registers a candidate", func(t *testing.T) {
			body := c.mustPostJSON(t, "/api/candidates", adminToken, map[string]any{
				"name":  "John Carpenter",
				"party": "Labour",
				"age":   45,
			}, http.StatusCreated)

			var resp struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatalf("failed to decode candidate: %v", err)
			}

			candidateID = resp.ID
		})

		t.Run("a voter registers and confirms their email address", func(t *testing.T) {
			c.mustPostJSON(t, "/api/accounts", "", map[string]any{
				"name":        "Vera Voter",
				"email":       "vera@example.com",
				"age":         34,
				"address":     "5 Polling Street",
				"civicNumber": "900000010",
				"password":    "reallyStrongPassword1",
			}, http.StatusCreated)

			// wait for the verification email to be logged.
			verifyURL := waitAndCaptureVerificationURL(t, logs, "vera@example.com")
			t.Logf("found verification url: %s", verifyURL)

			u, err := url.Parse(verifyURL)
			if err != nil {
				t.Fatalf("failed to parse verification url: %v", err)
			}

			c.mustPostJSON(t, "/api/email-verifications", "", map[string]any{
				"id":    u.Query().Get("id"),
				"token": u.Query().Get("token"),
			}, http.StatusNoContent)
		})

		t.Run("the voter logs in and votes", func(t *testing.T) {
			body := c.mustPostJSON(t, "/api/sessions", "", map[string]any{
				"civicNumber": "900000010",
				"password":    "reallyStrongPassword1",
			}, http.StatusOK)

			voterToken = tokenFromLogin(t, body)

			c.mustPostJSON(t, "/api/candidates/"+candidateID+"/votes", voterToken, nil, http.StatusCreated)

			// Voting twice fails.
			c.mustPostJSON(t, "/api/candidates/"+candidateID+"/votes", voterToken, nil, http.StatusConflict)
		})

		t.Run("everyone sees the tally", func(t *testing.T) {
			body := c.mustGetJSON(t, "/api/tally", http.StatusOK)

			var tally []struct {
				Party string `json:"party"`
				Count int    `json:"count"`
			}
			if err := json.Unmarshal(body, &tally); err != nil {
				t.Fatalf("failed to decode tally: %v", err)
			}

			if len(tally) != 1 || tally[0].Party != "Labour" || tally[0].Count != 1 {
				t.Errorf("unexpected tally: %+v", tally)
			}
		})
	}))
}

// runAppForTest runs the app while the test is running.
// This function returns after the app is confirmed to be up and stops
// the app when the test is cleaned up.
func runAppForTest(t *testing.T) *safeBuffer {
	t.Helper()

	// This helper function does two things:
	// 1. Run the app in a goroutine.
	// 2. Wait for the app to be up and running.

	// Both these tasks are done concurrently and share the same context.
	// When this context is cancelled, both tasks will stop.

	buf := newBuffer()

	// we will stop the server after a timeout or when the test is cleaned up.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(func() {
		// stop both tasks if it's still in progress.
		cancel()

		if t.Failed() {
			t.Logf("app output:\n%s", buf.String())
		}
	})

	done := make(chan struct{})
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Task 1: Run the app.
	go func() {
		defer close(done)

		code := run(ctx, buf)
		if code != 0 {
			t.Errorf("run exited with code %d", code)
		}
	}()

	// Task 2: Wait for the app to be available.
	err := waitForStatusOK(ctx, publicURL)
	if err != nil {
		t.Fatalf("error waiting for status ok: %v", err)
	}

	return buf
}

type client struct {
	http *http.Client
}

func newClient() *client {
	return &client{
		http: &http.Client{
			Timeout: httpClientTimeout,
		},
	}
}

func (c *client) mustPostJSON(t *testing.T, path, token string, payload any, wantStatus int) []byte {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+path, body)
	if err != nil {
		t.Fatalf("unexpected error creating post request: %v", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.mustDo(t, req, wantStatus)
}

func (c *client) mustGetJSON(t *testing.T, path string, wantStatus int) []byte {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		t.Fatalf("unexpected error creating get request: %v", err)
	}

	return c.mustDo(t, req, wantStatus)
}

func (c *client) mustDo(t *testing.T, req *http.Request, wantStatus int) []byte {
	t.Helper()

	res, err := c.http.Do(req)
	if err != nil {
		t.Fatalf("unexpected error during request: %v", err)
	}

	defer func() {
		if err := res.Body.Close(); err != nil {
			t.Fatalf("unexpected error closing response body: %v", err)
		}
	}()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("unexpected error reading response body: %v", err)
	}

	if res.StatusCode != wantStatus {
		t.Fatalf("unexpected status code: %d, body: %s", res.StatusCode, data)
	}

	return data
}

func tokenFromLogin(t *testing.T, body []byte) string {
	t.Helper()

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}

	if resp.Token == "" {
		t.Fatalf("expected a session token in %s", body)
	}

	return resp.Token
}

func waitAndCaptureVerificationURL(t *testing.T, logs *safeBuffer, addr string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	captureFunc := func() (string, bool) {
		lookFor := []string{
			`msg="send email"`,
			`subject="Confirm your email address"`,
			fmt.Sprintf(`recipient=%s`, addr),
		}

	OUTER:
		for _, line := range strings.Split(logs.String(), "\n") {
			for _, l := range lookFor {
				if !strings.Contains(line, l) {
					continue OUTER
				}
			}

			url, ok := extractVerificationURL(line)
			if ok {
				return url, true
			}
		}

		return "", false
	}

	for {
		select {
		case <-ticker.C:
			if url, ok := captureFunc(); ok {
				return url
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for email to %s", addr)
		}
	}
}

func extractVerificationURL(s string) (string, bool) {
	s = strings.ReplaceAll(s, `\n`, " ")
	r := regexp.MustCompile(`\bhttps?://localhost:8888/verify-email\S+`)
	result := r.FindString(s)
	if result == "" {
		return "", false
	}
	return result, true
}
