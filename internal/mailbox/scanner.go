package mailbox

import (
	"os"
	"path/filepath"

	"github.com/infodancer/mailserv/internal/spool"
)

// MessageFile is one delivered message file found in a mailbox directory.
type MessageFile struct {
	Path string
	Size int64
}

// Scan enumerates regular files beginning with spool.MsgPrefix under
// dir. Order is filesystem-defined; the POP3 engine uses this order as
// the 1-based message numbering for its session.
func Scan(dir string) ([]MessageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []MessageFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < len(spool.MsgPrefix) || name[:len(spool.MsgPrefix)] != spool.MsgPrefix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, MessageFile{
			Path: filepath.Join(dir, name),
			Size: info.Size(),
		})
	}
	return out, nil
}
