package store

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func createSession(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.Sessions().Create(&Session{ID: id, Source: SourceWebSocket}); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func TestSessionRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	t.Run("create and get", func(t *testing.T) {
		createSession(t, s, "sess-1")

		got, err := repo.GetByID("sess-1")
		if err != nil {
			t.Fatalf("GetByID error: %v", err)
		}
		if got.Source != SourceWebSocket {
			t.Errorf("expected source websocket, got %s", got.Source)
		}
		if got.EndedAt != nil {
			t.Error("new session should not be ended")
		}
	})

	t.Run("end sets ended_at", func(t *testing.T) {
		if err := repo.End("sess-1"); err != nil {
			t.Fatalf("End error: %v", err)
		}
		got, err := repo.GetByID("sess-1")
		if err != nil {
			t.Fatalf("GetByID error: %v", err)
		}
		if got.EndedAt == nil {
			t.Error("expected ended_at to be set")
		}
	})

	t.Run("unknown source is rejected", func(t *testing.T) {
		if err := repo.Create(&Session{ID: "bad", Source: "carrier-pigeon"}); err == nil {
			t.Error("expected check constraint to reject unknown source")
		}
	})

	t.Run("missing session", func(t *testing.T) {
		if _, err := repo.GetByID("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.End("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Delete("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPredictionRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Predictions()
	createSession(t, s, "sess-1")

	for i := 0; i < 3; i++ {
		err := repo.Create(&Prediction{
			ID:        fmt.Sprintf("pred-%d", i),
			SessionID: "sess-1",
			Mode:      "online",
			Endpoint:  "https://example.test/islr/predict",
			Frames:    20,
			Label:     fmt.Sprintf("SIGN%d", i),
			Status:    StatusOK,
			LatencyMs: 120,
		})
		if err != nil {
			t.Fatalf("create prediction %d: %v", i, err)
		}
	}

	t.Run("get by id", func(t *testing.T) {
		p, err := repo.GetByID("pred-1")
		if err != nil {
			t.Fatalf("GetByID error: %v", err)
		}
		if p.Label != "SIGN1" || p.Frames != 20 || p.Status != StatusOK {
			t.Errorf("unexpected prediction: %+v", p)
		}
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		got, err := repo.List(2)
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 predictions, got %d", len(got))
		}
		if got[0].ID != "pred-2" {
			t.Errorf("expected newest first, got %s", got[0].ID)
		}
	})

	t.Run("list by session in order", func(t *testing.T) {
		got, err := repo.ListBySession("sess-1")
		if err != nil {
			t.Fatalf("ListBySession error: %v", err)
		}
		if len(got) != 3 || got[0].ID != "pred-0" {
			t.Errorf("expected 3 predictions starting at pred-0, got %d", len(got))
		}
	})

	t.Run("requires an existing session", func(t *testing.T) {
		err := repo.Create(&Prediction{ID: "orphan", SessionID: "missing", Status: StatusFailed})
		if err == nil {
			t.Error("expected foreign key violation")
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		err := repo.Create(&Prediction{ID: "weird", SessionID: "sess-1", Status: "maybe"})
		if err == nil {
			t.Error("expected check constraint violation")
		}
	})

	t.Run("delete before", func(t *testing.T) {
		n, err := repo.DeleteBefore(time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("DeleteBefore error: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 deleted, got %d", n)
		}
	})

	t.Run("deleting a session cascades", func(t *testing.T) {
		createSession(t, s, "sess-2")
		if err := repo.Create(&Prediction{ID: "p", SessionID: "sess-2", Status: StatusTimeout}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.Sessions().Delete("sess-2"); err != nil {
			t.Fatalf("delete session: %v", err)
		}
		if _, err := repo.GetByID("p"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected prediction removed by cascade, got %v", err)
		}
	})
}

func TestSettingsRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	if _, err := repo.Get(SettingMode); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unset key, got %v", err)
	}

	if err := repo.Set(SettingMode, "online"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := repo.Set(SettingMode, "offline"); err != nil {
		t.Fatalf("Set overwrite error: %v", err)
	}

	got, err := repo.Get(SettingMode)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "offline" {
		t.Errorf("expected offline, got %s", got)
	}

	err = repo.SetMany(map[string]string{
		SettingEndpoint:  "http://127.0.0.1:9000/predict",
		SettingBatchSize: "15",
	})
	if err != nil {
		t.Fatalf("SetMany error: %v", err)
	}

	all, err := repo.All()
	if err != nil {
		t.Fatalf("All error: %v", err)
	}
	if len(all) != 3 || all[SettingBatchSize] != "15" {
		t.Errorf("unexpected settings: %v", all)
	}
}
