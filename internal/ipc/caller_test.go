package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIntegrityRID(t *testing.T) {
	tests := []struct {
		name string
		sid  string
		want int
	}{
		{"system integrity", "S-1-16-16384", 16384},
		{"high integrity", "S-1-16-12288", 12288},
		{"medium integrity", "S-1-16-8192", 8192},
		{"low integrity", "S-1-16-4096", 4096},
		{"untrusted integrity", "S-1-16-0", 0},
		{"non-mandatory-label SID", "S-1-5-21", 0},
		{"empty string", "", 0},
		{"malformed trailing segment", "S-1-16-abc", 0},
		{"too few segments", "S-1-16", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIntegrityRID(tt.sid))
		})
	}
}

func TestCallerInfoIsHighIntegrity(t *testing.T) {
	assert.True(t, CallerInfo{IntegrityRID: HighIntegrityRID}.IsHighIntegrity())
	assert.True(t, CallerInfo{IntegrityRID: 0x4000}.IsHighIntegrity())
	assert.False(t, CallerInfo{IntegrityRID: 0x2000}.IsHighIntegrity())
}

func TestCallerInfoAuthorizedForPrivileged(t *testing.T) {
	tests := []struct {
		name string
		c    CallerInfo
		want bool
	}{
		{
			name: "fully authorized",
			c:    CallerInfo{IsAdministrator: true, IntegrityRID: HighIntegrityRID, ImageSigned: true},
			want: true,
		},
		{
			name: "not administrator",
			c:    CallerInfo{IsAdministrator: false, IntegrityRID: HighIntegrityRID, ImageSigned: true},
			want: false,
		},
		{
			name: "medium integrity",
			c:    CallerInfo{IsAdministrator: true, IntegrityRID: 0x2000, ImageSigned: true},
			want: false,
		},
		{
			name: "unsigned image",
			c:    CallerInfo{IsAdministrator: true, IntegrityRID: HighIntegrityRID, ImageSigned: false},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.AuthorizedForPrivileged())
		})
	}
}
