package fooddb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Mode: "development"})
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/foods/search" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "grilled chicken" {
			t.Errorf("query: %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"foods":[{"id":"f1","name":"grilled chicken breast","serving_grams":120,"kcal":198,"protein_g":37,"carbs_g":0,"fat_g":4.3}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(testLogger(t), Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	foods, err := client.Search(context.Background(), "grilled chicken")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(foods) != 1 {
		t.Fatalf("foods: want=1 got=%d", len(foods))
	}
	food := foods[0]
	if food.ID != "f1" || food.ServingGrams != 120 || food.Macros.Kcal != 198 {
		t.Fatalf("parsed food: %+v", food)
	}
}

func TestSearchEmptyResultIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"foods":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(testLogger(t), Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	foods, err := client.Search(context.Background(), "unknowable dish")
	if err != nil {
		t.Fatalf("a miss must not error: %v", err)
	}
	if len(foods) != 0 {
		t.Fatalf("foods: want=0 got=%d", len(foods))
	}
}

func TestSearchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"foods":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(testLogger(t), Config{APIKey: "k", BaseURL: srv.URL, MaxRetries: 2})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Search(context.Background(), "anything"); err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls: want=2 got=%d", calls)
	}
}

func TestSearchGivesUpOnClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(testLogger(t), Config{APIKey: "bad", BaseURL: srv.URL, MaxRetries: 3})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Search(context.Background(), "anything"); err == nil {
		t.Fatalf("expected an error on 401")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("a 401 must not be retried, calls=%d", calls)
	}
}

func TestDisabledClientAlwaysMisses(t *testing.T) {
	client := NewDisabled()
	foods, err := client.Search(context.Background(), "anything")
	if err != nil || foods != nil {
		t.Fatalf("disabled client: foods=%v err=%v", foods, err)
	}
}
