package checkout

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxReferenceAttempts = 5

// NewReference builds an order reference of the form
// ORD-<yyyymmddhhmmss>-<8 upper-case hex>.
func NewReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + now.UTC().Format("20060102150405") + "-" + suffix
}
