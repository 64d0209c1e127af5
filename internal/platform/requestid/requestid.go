package requestid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random request id without dashes, matching the 32 hex
// character ids produced by upstream proxies.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
