package catalog

import (
	"testing"
	"time"
)

func TestRestoreCandidateLatest(t *testing.T) {
	dated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		details []RestoreDetail
		want    string
	}{
		{
			name: "dated directories by date",
			details: []RestoreDetail{
				{Date: "2024-03-01_10-00-00"},
				{Date: "2024-11-20_08-30-00"},
				{Date: "2024-01-05_23-59-59"},
			},
			want: "2024-11-20_08-30-00",
		},
		{
			name: "by_time backup after an older cover",
			details: []RestoreDetail{
				{Date: "cover", Written: dated.Add(-24 * time.Hour)},
				{Date: "2024-03-01_10-00-00"},
			},
			want: "2024-03-01_10-00-00",
		},
		{
			name: "cover written after the last by_time backup",
			details: []RestoreDetail{
				{Date: "2024-03-01_10-00-00"},
				{Date: "cover", Written: dated.Add(time.Hour)},
			},
			want: "cover",
		},
		{
			name: "cover with unknown time",
			details: []RestoreDetail{
				{Date: "cover"},
				{Date: "2024-03-01_10-00-00"},
			},
			want: "2024-03-01_10-00-00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &RestoreCandidate{PackageName: "com.foo", Details: tt.details}
			got, ok := c.Latest()
			if !ok || got.Date != tt.want {
				t.Errorf("Latest() = %q, want %q", got.Date, tt.want)
			}
		})
	}

	if _, ok := (&RestoreCandidate{}).Latest(); ok {
		t.Error("Latest() on an empty candidate should report false")
	}
}

func TestMediaRestoreLatest(t *testing.T) {
	m := &MediaRestore{Name: "DCIM", Details: []MediaRestoreDetail{
		{Date: "cover", Written: time.Date(2023, 6, 1, 0, 0, 0, 0, time.Local)},
		{Date: "2024-01-01_00-00-00"},
	}}
	if got, _ := m.Latest(); got.Date != "2024-01-01_00-00-00" {
		t.Errorf("Latest() = %q, want the newer dated backup", got.Date)
	}
}
