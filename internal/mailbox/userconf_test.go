package mailbox

import (
	"os"
	"testing"
)

func TestLoadUserConf(t *testing.T) {
	dir := t.TempDir()
	content := "password: hunter2\r\nquota: 100\r\n\r\n# not a real comment, just blank-skipped\r\n"
	if err := os.WriteFile(dir+"/"+UserConfFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	uc, err := LoadUserConf(dir)
	if err != nil {
		t.Fatalf("LoadUserConf: %v", err)
	}
	if uc.Password != "hunter2" {
		t.Errorf("Password = %q", uc.Password)
	}
	if uc.Extra["quota"] != "100" {
		t.Errorf("Extra[quota] = %q", uc.Extra["quota"])
	}
}

func TestLoadUserConfMissing(t *testing.T) {
	if _, err := LoadUserConf(t.TempDir()); err == nil {
		t.Fatal("expected error for missing userconf.txt")
	}
}
