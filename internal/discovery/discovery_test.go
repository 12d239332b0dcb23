package discovery

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTXTRecords(t *testing.T) {
	txt := TXTRecords(Info{Port: 7337, Version: "1.2.0", Watches: 3})

	var got []string
	for _, r := range txt {
		got = append(got, string(r))
	}
	assert.Equal(t, []string{"api=v1", "version=1.2.0", "watches=3"}, got)

	txt = TXTRecords(Info{Port: 7337})
	assert.Len(t, txt, 2, "empty version is omitted")
}

func TestAnnounceable(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"", true},
		{"0.0.0.0", true},
		{"::", true},
		{"192.168.1.20", true},
		{"nas.local", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"localhost", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, Announceable(tt.host))
		})
	}
}

func TestAdvertiser_InvalidPort(t *testing.T) {
	a := NewAdvertiser(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	require.Error(t, a.Start(Info{Port: 0}))
	require.Error(t, a.Start(Info{Port: 70000}))
	assert.False(t, a.Active())
}

func TestAdvertiser_StopWithoutStart(t *testing.T) {
	a := NewAdvertiser(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	assert.NotPanics(t, a.Stop)
	assert.False(t, a.Active())
}

func TestAdvertiser_Announce(t *testing.T) {
	if _, err := dbus.SystemBus(); err != nil {
		t.Skip("no system bus:", err)
	}

	a := NewAdvertiser(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if err := a.Start(Info{Port: 7337, Version: "test"}); err != nil {
		t.Skip("avahi unavailable:", err)
	}
	assert.True(t, a.Active())

	a.Stop()
	assert.False(t, a.Active())
}
