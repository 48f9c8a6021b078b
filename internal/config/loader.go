package config

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Flags holds command-line flag values. Only -config is required; every
// other value comes from the flat configuration file.
type Flags struct {
	ConfigPath string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}
	flag.StringVar(&f.ConfigPath, "config", "./mailserv.conf", "Path to configuration file")
	flag.Parse()
	return f
}

// Load reads the flat key:value configuration file at path and returns
// a defaulted, parsed Config. It does not validate; callers should call
// Validate separately so command-line tooling can report every problem
// at once.
//
// One "key:value" pair per line. Blank lines and lines beginning with
// "#" are ignored — options.cpp in original_source already skips blank
// lines; the "#" comment convention is a harmless addition since the
// original format has none.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return cfg, fmt.Errorf("malformed config line %q", line)
		}
		raw[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := applyRaw(&cfg, raw); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyRaw(cfg *Config, raw map[string]string) error {
	if v, ok := raw["hostname"]; ok {
		cfg.Hostname = v
	}
	if v, ok := raw["send_dir"]; ok {
		cfg.SendDir = v
	}
	if v, ok := raw["log_file"]; ok {
		cfg.LogFile = v
	}
	if v, ok := raw["log_level"]; ok {
		cfg.LogLevel = v
	}
	if v, ok := raw["log_timestamp"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("log_timestamp: %w", err)
		}
		cfg.LogTimestamp = b
	}
	if v, ok := raw["log_max_bytes"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("log_max_bytes: %w", err)
		}
		cfg.LogMaxBytes = n
	}
	if v, ok := raw["smtp_port"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("smtp_port: %w", err)
		}
		cfg.SMTPPort = n
	}
	if v, ok := raw["pop3_port"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("pop3_port: %w", err)
		}
		cfg.POP3Port = n
	}
	if v, ok := raw["scan_interval"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("scan_interval: %w", err)
		}
		cfg.ScanInterval = time.Duration(n) * time.Second
	}
	if v, ok := raw["sender_threads"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("sender_threads: %w", err)
		}
		cfg.SenderThreads = n
	}
	if v, ok := raw["metrics_enabled"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("metrics_enabled: %w", err)
		}
		cfg.MetricsEnabled = b
	}
	if v, ok := raw["metrics_address"]; ok {
		cfg.MetricsAddress = v
	}

	count := 0
	if v, ok := raw["domain_count"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("domain_count: %w", err)
		}
		count = n
	}

	cfg.Domains = make([]DomainConfig, 0, count)
	for i := 1; i <= count; i++ {
		name := raw[fmt.Sprintf("domain%d", i)]
		root := raw[fmt.Sprintf("domain%d_mailboxes", i)]
		cfg.Domains = append(cfg.Domains, DomainConfig{Name: name, Mailboxes: root})
	}

	return nil
}
