package session

import (
	"fmt"
	"regexp"
	"strings"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name can be used as a session directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// ValidateIdentity checks a login identity before it is sent to the server.
func ValidateIdentity(identity string) error {
	switch {
	case identity == "":
		return fmt.Errorf("account identity is empty")
	case strings.ContainsAny(identity, " \t\r\n"):
		return fmt.Errorf("invalid account identity %q: contains whitespace", identity)
	}
	return nil
}
