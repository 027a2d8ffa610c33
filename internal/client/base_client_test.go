package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/client"
)

func TestBaseClient_Do_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET request, got %s", r.Method)
		}

		resp := map[string]string{"status": "ok"}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	bc := client.NewBaseClient(server.URL, 10*time.Second, logger)

	ctx := context.Background()
	resp, err := bc.Do(ctx, http.MethodGet, "/test", nil)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestBaseClient_Do_POST(t *testing.T) {
	type testRequest struct {
		Name string `json:"name"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}

		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		var req testRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		if req.Name != "test" {
			t.Errorf("Expected name 'test', got '%s'", req.Name)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"status": "created"})
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	bc := client.NewBaseClient(server.URL, 10*time.Second, logger)

	ctx := context.Background()
	reqBody := testRequest{Name: "test"}
	resp, err := bc.Do(ctx, http.MethodPost, "/create", reqBody)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", resp.StatusCode)
	}
}

func TestBaseClient_BaseURL(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	expectedURL := "http://example.com/api/v1"
	const timeoutSeconds = 10
	bc := client.NewBaseClient(expectedURL, timeoutSeconds*time.Second, logger)

	if bc.BaseURL() != expectedURL {
		t.Errorf("Expected baseURL '%s', got '%s'", expectedURL, bc.BaseURL())
	}
}

func TestBaseClient_ParseErrorResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		code        string
		description string
		wantPrefix  string
	}{
		{
			name:        "ticket_not_found",
			status:      http.StatusNotFound,
			code:        "ticket_not_found",
			description: "the ticket does not exist or is expired",
			wantPrefix:  "HTTP 404",
		},
		{
			name:        "ticket_consumed",
			status:      http.StatusGone,
			code:        "ticket_consumed",
			description: "the ticket has already been used",
			wantPrefix:  "HTTP 410",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				errResp := map[string]string{
					"error":             tt.code,
					"error_description": tt.description,
				}
				json.NewEncoder(w).Encode(errResp)
			}))
			defer server.Close()

			logger := logrus.New()
			logger.SetLevel(logrus.ErrorLevel)

			bc := client.NewBaseClient(server.URL, 10*time.Second, logger)

			ctx := context.Background()
			resp, err := bc.Do(ctx, http.MethodGet, "/test", nil)
			if err != nil {
				t.Fatalf("Do() failed: %v", err)
			}

			err = bc.ParseErrorResponse(resp)
			if err == nil {
				t.Fatal("Expected error from ParseErrorResponse(), got nil")
			}

			if len(err.Error()) < len(tt.wantPrefix) || err.Error()[:len(tt.wantPrefix)] != tt.wantPrefix {
				t.Errorf("Expected error to start with '%s', got '%s'", tt.wantPrefix, err.Error())
			}
			if !strings.Contains(err.Error(), tt.code) || !strings.Contains(err.Error(), tt.description) {
				t.Errorf("Expected error to carry '%s - %s', got '%s'", tt.code, tt.description, err.Error())
			}
		})
	}
}

func TestBaseClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Slow response
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	bc := client.NewBaseClient(server.URL, 10*time.Second, logger)

	// Create context that's already cancelled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bc.Do(ctx, http.MethodGet, "/test", nil)
	if err == nil {
		t.Fatal("Expected error from cancelled context, got nil")
	}
}
