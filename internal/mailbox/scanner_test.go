package mailbox

import (
	"os"
	"testing"
)

func TestScanFindsOnlyMsgFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"MSG1", "MSG2", "NEWpending", "userconf.txt"} {
		if err := os.WriteFile(dir+"/"+name, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(dir+"/MSGsubdir", 0700); err != nil {
		t.Fatal(err)
	}

	files, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %+v", len(files), files)
	}
}
