package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sessionSuffixLen = 9

// NewSessionID returns session_<unix millis>_<random>. The suffix comes from a
// random UUID, which is enough to keep concurrent sessions apart in practice.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:sessionSuffixLen]
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
}
