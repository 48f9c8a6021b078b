package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailserv.conf")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "hostname: mail.example.com\r\nsend_dir: /var/spool/mailserv\r\ndomain_count: 0\r\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SMTPPort != 25 || cfg.POP3Port != 110 {
		t.Errorf("default ports not applied: %+v", cfg)
	}
	if cfg.ScanInterval != 1*time.Second {
		t.Errorf("ScanInterval = %v", cfg.ScanInterval)
	}
	if cfg.SenderThreads != 5 {
		t.Errorf("SenderThreads = %d", cfg.SenderThreads)
	}
}

func TestLoadParsesDomains(t *testing.T) {
	path := writeConfig(t, "send_dir: /spool\r\n"+
		"domain_count: 2\r\n"+
		"domain1: example.com\r\n"+
		"domain1_mailboxes: /var/mail/example.com\r\n"+
		"domain2: test.org\r\n"+
		"domain2_mailboxes: /var/mail/test.org\r\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Domains) != 2 {
		t.Fatalf("got %d domains, want 2", len(cfg.Domains))
	}
	if cfg.Domains[0] != (DomainConfig{Name: "example.com", Mailboxes: "/var/mail/example.com"}) {
		t.Errorf("Domains[0] = %+v", cfg.Domains[0])
	}
}

func TestLoadIgnoresBlankAndCommentLines(t *testing.T) {
	path := writeConfig(t, "\r\n# a comment\r\nhostname: mail.example.com\r\n\r\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hostname != "mail.example.com" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
}

func TestLoadMalformedLine(t *testing.T) {
	path := writeConfig(t, "this line has no colon\r\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config line")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors for an empty config")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Default()
	cfg.SendDir = "/var/spool/mailserv"
	cfg.Domains = []DomainConfig{{Name: "example.com", Mailboxes: "/var/mail/example.com"}}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateAcceptsZeroDomains(t *testing.T) {
	cfg := Default()
	cfg.SendDir = "/var/spool/mailserv"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v, want relay-only config (domain_count 0) to be valid", err)
	}
}
