package safety

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RunAsUIDEnv names the environment variable that declares the invoking uid
// when the process runs under a wrapper (container entrypoint, sudo shim).
const RunAsUIDEnv = "RUN_AS_UID"

// ErrForbidden is returned when a backup is requested by the superuser.
var ErrForbidden = errors.New("backups must not run as root")

// Identity is the invoking identity as seen by the backup gate.
type Identity struct {
	// EUID is the effective uid of the process.
	EUID int
	// RunAsUID is the declared uid from RUN_AS_UID, or -1 when unset.
	RunAsUID int
}

// CurrentIdentity reads the effective uid and RUN_AS_UID from the
// environment. An unparsable RUN_AS_UID is an error.
func CurrentIdentity() (Identity, error) {
	id := Identity{EUID: os.Geteuid(), RunAsUID: -1}

	raw, ok := os.LookupEnv(RunAsUIDEnv)
	if !ok || strings.TrimSpace(raw) == "" {
		return id, nil
	}
	uid, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || uid < 0 {
		return id, fmt.Errorf("invalid %s %q", RunAsUIDEnv, raw)
	}
	id.RunAsUID = uid
	return id, nil
}

// Check forbids the identity when either the effective or the declared uid is
// 0. The declared uid can only add restriction, never lift it.
func (id Identity) Check() error {
	if id.EUID == 0 {
		return fmt.Errorf("%w: effective uid is 0", ErrForbidden)
	}
	if id.RunAsUID == 0 {
		return fmt.Errorf("%w: %s=0", ErrForbidden, RunAsUIDEnv)
	}
	return nil
}

// CheckIdentity is the single-uid form of the gate.
func CheckIdentity(uid int) error {
	return Identity{EUID: uid, RunAsUID: -1}.Check()
}
