package cfg

import (
	"strings"
	"testing"
	"time"
)

func validCfg() *Cfg {
	return &Cfg{
		Port:              "8080",
		Environment:       "test",
		DatabasePath:      ":memory:",
		LRUCacheSize:      100,
		Argon2Time:        1,
		Argon2Memory:      8 * 1024,
		Argon2Parallelism: 1,
		Argon2KeyLen:      32,
		MaxClipSize:       1024 * 1024,
		DefaultTTLHours:   24,
		MaxTTLHours:       720,
		ReaperInterval:    10 * time.Minute,
		ContextTimeout:    5 * time.Second,
		Pepper:            NewSecret(strings.Repeat("p", 32)),
		RateLimit: RateLimitCfg{
			ClipsPerWindow:    10,
			Window:            time.Hour,
			RPM:               60,
			Burst:             10,
			ConservativeLimit: 30,
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxClipSize != 1024*1024 {
		t.Errorf("MaxClipSize default = %d, want 1048576", c.MaxClipSize)
	}
	if c.DefaultTTLHours != 24 {
		t.Errorf("DefaultTTLHours default = %v, want 24", c.DefaultTTLHours)
	}
	if c.RateLimit.ClipsPerWindow != 10 {
		t.Errorf("ClipsPerWindow default = %d, want 10", c.RateLimit.ClipsPerWindow)
	}
	if c.RateLimit.Window != time.Hour {
		t.Errorf("Window default = %v, want 1h", c.RateLimit.Window)
	}
}

func TestValidateAcceptsValid(t *testing.T) {
	if err := Validate(validCfg()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Cfg)
	}{
		{"empty port", func(c *Cfg) { c.Port = "" }},
		{"non-numeric port", func(c *Cfg) { c.Port = "http" }},
		{"zero quota", func(c *Cfg) { c.RateLimit.ClipsPerWindow = 0 }},
		{"tiny window", func(c *Cfg) { c.RateLimit.Window = time.Second }},
		{"oversized clip limit", func(c *Cfg) { c.MaxClipSize = 11 * 1024 * 1024 }},
		{"short pepper", func(c *Cfg) { c.Pepper = NewSecret("short") }},
		{"max ttl below default", func(c *Cfg) { c.MaxTTLHours = 1 }},
		{"bad trusted proxy", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }},
		{"bad redis url", func(c *Cfg) { c.RedisURL = "http://localhost" }},
	}
	for _, tc := range cases {
		c := validCfg()
		tc.mutate(c)
		if err := Validate(c); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestSecretRedactsString(t *testing.T) {
	s := NewSecret("hunter2hunter2")
	if s.String() == "hunter2hunter2" {
		t.Fatal("Secret.String leaked the value")
	}
	if s.Value() != "hunter2hunter2" {
		t.Fatal("Secret.Value lost the value")
	}
	s.Wipe()
	if strings.ContainsAny(s.Value(), "hunter") {
		t.Fatal("Wipe left secret bytes behind")
	}
}
