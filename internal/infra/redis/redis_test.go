package redis

import (
	"context"
	"strconv"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/sifan077/PoolURL/config"
)

func TestNewClient(t *testing.T) {
	m := miniredis.RunT(t)
	port, err := strconv.Atoi(m.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	client, err := NewClient(context.Background(), config.RedisConfig{Host: m.Host(), Port: port})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := m.Get("k"); got != "v" {
		t.Fatalf("expected v, got %q", got)
	}
}

func TestNewClientUnreachable(t *testing.T) {
	m := miniredis.RunT(t)
	port, _ := strconv.Atoi(m.Port())
	m.Close()

	if _, err := NewClient(context.Background(), config.RedisConfig{Host: "127.0.0.1", Port: port}); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestAddrDefaults(t *testing.T) {
	if got := Addr(config.RedisConfig{}); got != "localhost:6379" {
		t.Fatalf("expected default addr, got %s", got)
	}
}
