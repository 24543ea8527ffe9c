package model

import (
	"errors"
	"testing"
	"time"
)

func TestValidateDestination(t *testing.T) {
	tests := []struct {
		name    string
		dest    string
		maxLen  int
		wantErr bool
	}{
		{"https", "https://example.com", 0, false},
		{"https with path", "https://example.com/a/b?c=d", 0, false},
		{"http", "http://example.com", 0, true},
		{"no scheme", "example.com", 0, true},
		{"ftp", "ftp://example.com", 0, true},
		{"missing host", "https://", 0, true},
		{"empty", "", 0, true},
		{"reserved", ReservedDestination, 0, true},
		{"too long", "https://example.com/abcdefghij", 20, true},
		{"within limit", "https://example.com", 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDestination(tt.dest, tt.maxLen)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDestination) {
					t.Fatalf("expected ErrInvalidDestination, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBindingStates(t *testing.T) {
	now := time.Now().UTC()

	reserved := Binding{Destination: ReservedDestination, ExpiresAt: now.Add(-time.Hour)}
	if !reserved.IsReserved() || !reserved.IsLive(now) || reserved.IsActive(now) {
		t.Fatalf("reserved binding states wrong: %+v", reserved)
	}

	active := Binding{Destination: "https://example.com", ExpiresAt: now.Add(time.Hour)}
	if active.IsReserved() || !active.IsLive(now) || !active.IsActive(now) {
		t.Fatalf("active binding states wrong: %+v", active)
	}

	expired := Binding{Destination: "https://example.com", ExpiresAt: now.Add(-time.Hour)}
	if expired.IsLive(now) || expired.IsActive(now) {
		t.Fatalf("expired binding states wrong: %+v", expired)
	}
}

func TestParseObservedAt(t *testing.T) {
	valid := []string{
		"2024-09-21T07:35:00Z",
		"2024-09-21T07:35:00.123456+03:30",
		"2024-09-21 07:35:00 +0000",
	}
	for _, raw := range valid {
		if _, err := ParseObservedAt(raw); err != nil {
			t.Errorf("ParseObservedAt(%q) returned error: %v", raw, err)
		}
	}

	invalid := []string{
		"",
		"2024-09-21T07:35:00",
		"2024-09-21 07:35:00",
		"yesterday",
	}
	for _, raw := range invalid {
		if _, err := ParseObservedAt(raw); !errors.Is(err, ErrMalformedTimestamp) {
			t.Errorf("ParseObservedAt(%q) expected ErrMalformedTimestamp, got %v", raw, err)
		}
	}
}

func TestFormatObservedAtRoundTrip(t *testing.T) {
	loc := time.FixedZone("IRST", 3*3600+1800)
	at := time.Date(2024, 9, 21, 7, 35, 0, 500, loc)

	parsed, err := ParseObservedAt(FormatObservedAt(at))
	if err != nil {
		t.Fatalf("ParseObservedAt error: %v", err)
	}
	if !parsed.Equal(at) {
		t.Fatalf("expected %v, got %v", at, parsed)
	}
}

func TestUsageEventBeforeCreateRejectsZeroTime(t *testing.T) {
	e := &UsageEvent{BindingID: 1}
	if err := e.BeforeCreate(nil); !errors.Is(err, ErrMalformedTimestamp) {
		t.Fatalf("expected ErrMalformedTimestamp, got %v", err)
	}
}
