package mailbox

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// UserConfFile is the name of the per-mailbox credential file.
const UserConfFile = "userconf.txt"

// UserConf holds the parsed contents of a mailbox's userconf.txt.
// Grounded on the line-oriented "key:value" parse loop in
// original_source/src/accounts.cpp, reduced to the single key (password)
// the POP3 engine needs, plus a pass-through map for forward
// compatibility with additional keys.
type UserConf struct {
	Password string
	Extra    map[string]string
}

// LoadUserConf reads and parses <mailboxDir>/userconf.txt.
func LoadUserConf(mailboxDir string) (*UserConf, error) {
	f, err := os.Open(mailboxDir + string(os.PathSeparator) + UserConfFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	uc := &UserConf{Extra: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "password" {
			uc.Password = value
			continue
		}
		uc.Extra[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", UserConfFile, err)
	}
	return uc, nil
}
