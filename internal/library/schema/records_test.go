package schema

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUserPreferences_Defaults(t *testing.T) {
	p := DefaultPreferences("user-1")
	if err := p.Validate(); err != nil {
		t.Fatalf("DefaultPreferences().Validate() = %v", err)
	}
	if !p.AutoSync {
		t.Error("AutoSync default = false, want true")
	}
	if p.Language != "en" {
		t.Errorf("Language = %q, want en", p.Language)
	}
	if p.DefaultMediaStatus != StatusNone {
		t.Errorf("DefaultMediaStatus = %q, want none", p.DefaultMediaStatus)
	}
}

func TestUserPreferences_Set(t *testing.T) {
	tests := []struct {
		field, value string
		wantErr      bool
	}{
		{"theme", "dark", false},
		{"theme", "sepia", true},
		{"autoSync", "false", false},
		{"autoSync", "maybe", true},
		{"clearLibraryConfirmation", "disabled", false},
		{"clearLibraryConfirmation", "off", true},
		{"defaultMediaStatus", "willWatch", false},
		{"defaultMediaStatus", "later", true},
		{"language", "pt-BR", false},
		{"language", "much-too-long-code", true},
		{"fontSize", "12", true},
	}

	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value, func(t *testing.T) {
			p := DefaultPreferences("user-1")
			err := p.Set(tt.field, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set(%q, %q) error = %v, wantErr %v", tt.field, tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestLibrary_Validate(t *testing.T) {
	lib := Library{ID: "lib-1", UserID: "u", AverageRating: 7.5}
	if err := lib.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	lib.AverageRating = 11
	if err := lib.Validate(); err == nil {
		t.Error("Validate() accepted averageRating 11")
	}
}

func TestSyncOperation_Validate(t *testing.T) {
	data, _ := json.Marshal(validItem(time.Now()))

	tests := []struct {
		name    string
		op      SyncOperation
		wantErr bool
	}{
		{"create", SyncOperation{ID: "op1", Type: OpCreate, Key: "movie-603", Data: data}, false},
		{"delete without data", SyncOperation{ID: "op2", Type: OpDelete, Key: "movie-603"}, false},
		{"update without data", SyncOperation{ID: "op3", Type: OpUpdate, Key: "movie-603"}, true},
		{"bad key", SyncOperation{ID: "op4", Type: OpDelete, Key: "603"}, true},
		{"bad type", SyncOperation{ID: "op5", Type: "upsert", Key: "movie-603", Data: data}, true},
		{"missing id", SyncOperation{Type: OpDelete, Key: "movie-603"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSyncOperation_Item(t *testing.T) {
	item := validItem(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	op := SyncOperation{ID: "op1", Type: OpUpdate, Key: item.ID, Data: data}

	got, err := op.Item()
	if err != nil {
		t.Fatalf("Item() failed: %v", err)
	}
	if got.ID != item.ID || got.Title != item.Title || !got.AddedAt.Equal(item.AddedAt) {
		t.Errorf("Item() = %+v, want %+v", got, item)
	}
}
