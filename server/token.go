package server

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// A TokenDecoder turns the API key given with a request into a user name and
// a Role. An unrecognized key gives the user "" with RoleUnknown. An error
// means the lookup itself failed.
type TokenDecoder interface {
	TokenDecode(token string) (user string, role Role, err error)
}

// Role is the level of access a user has. Each role includes the ones
// before it.
type Role int

// The roles in increasing order of access.
const (
	RoleUnknown Role = iota
	RoleMDOnly       // may read deposit bookkeeping
	RoleRead         // may list and download deposits
	RoleWrite        // may send segments and complete deposits
	RoleAdmin        // may delete deposits
)

var roleNames = map[string]Role{
	"mdonly": RoleMDOnly,
	"read":   RoleRead,
	"write":  RoleWrite,
	"admin":  RoleAdmin,
}

func atoRole(s string) Role {
	return roleNames[strings.ToLower(s)]
}

func (r Role) String() string {
	for name, role := range roleNames {
		if role == r {
			return name
		}
	}
	return "unknown"
}

// NewNobodyDecoder returns a TokenDecoder giving every key, even an empty
// one, the user "nobody" with RoleAdmin.
func NewNobodyDecoder() TokenDecoder {
	return nobodyDecoder{}
}

type nobodyDecoder struct{}

func (nobodyDecoder) TokenDecode(token string) (string, Role, error) {
	return "nobody", RoleAdmin, nil
}

// NewListDecoder reads a fixed list of users from r. Each line has the form
//
//	<user name>  <role>  <token>
//
// separated by spaces or tabs. The role is one of "MDOnly", "Read", "Write"
// or "Admin", in any case. Blank lines and lines starting with '#' are
// ignored. Any other line which does not fit is an error.
func NewListDecoder(r io.Reader) (TokenDecoder, error) {
	result := make(listDecoder)
	scanner := bufio.NewScanner(r)
	var lineno int
	for scanner.Scan() {
		lineno++
		pieces := strings.Fields(scanner.Text())
		if len(pieces) == 0 || strings.HasPrefix(pieces[0], "#") {
			continue
		}
		if len(pieces) != 3 {
			return nil, errors.Errorf("token list line %d: expected 3 fields, got %d", lineno, len(pieces))
		}
		role := atoRole(pieces[1])
		if role == RoleUnknown {
			return nil, errors.Errorf("token list line %d: unknown role %q", lineno, pieces[1])
		}
		result[pieces[2]] = userEntry{user: pieces[0], role: role}
	}
	return result, scanner.Err()
}

// NewListDecoderFile reads the user list from the named file.
func NewListDecoderFile(fname string) (TokenDecoder, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewListDecoder(f)
}

// NewListDecoderString reads the user list from a string.
func NewListDecoderString(data string) (TokenDecoder, error) {
	return NewListDecoder(strings.NewReader(data))
}

// listDecoder maps tokens to users.
type listDecoder map[string]userEntry

type userEntry struct {
	user string
	role Role
}

func (ld listDecoder) TokenDecode(token string) (string, Role, error) {
	u, ok := ld[token]
	if !ok {
		return "", RoleUnknown, nil
	}
	return u.user, u.role, nil
}
