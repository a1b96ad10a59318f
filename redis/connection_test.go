package redis

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestOpenConnectionSingleton(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Cleanup(func() { CloseConnection() })

	c1, err := OpenConnection(ctx, Options{Address: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := OpenConnection(ctx, Options{Address: "elsewhere:6379"})
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 || !IsConnectionInstantiated() {
		t.Fatal("second open did not return the singleton")
	}
	if err := CloseConnection(); err != nil {
		t.Fatal(err)
	}
	if IsConnectionInstantiated() {
		t.Error("connection still instantiated after close")
	}
}

func TestOpenConnectionRejectedAuth(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	start := time.Now()
	_, err := openConnection(ctx, Options{Address: mr.Addr(), Password: "wrong"})
	if err == nil {
		t.Fatal("expected an auth error")
	}
	// Not retried.
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("rejected auth took %v", d)
	}
}

func TestIsTransient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	tests := []struct {
		reply string
		want  bool
	}{
		{"LOADING Redis is loading the dataset in memory", true},
		{"MASTERDOWN Link with MASTER is down", true},
		{"ERR unknown command", false},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			mr.SetError(tt.reply)
			defer mr.SetError("")
			err := client.Ping(ctx).Err()
			if err == nil {
				t.Fatal("expected an error reply")
			}
			if got := isTransient(err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", err, got, tt.want)
			}
		})
	}
	if !isTransient(fmt.Errorf("dial: %w", timeoutErr{})) {
		t.Error("network timeout not transient")
	}
	if isTransient(errors.New("boom")) {
		t.Error("plain error transient")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
