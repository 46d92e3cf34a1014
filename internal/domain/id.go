package domain

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID returns an identifier of the form prefix-<epochMillis>-<9 alphanumerics>.
// Ids are treated as opaque strings everywhere else; any string-shaped id is
// accepted by the runtime.
func NewID(prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	b.WriteByte('-')
	for i := 0; i < 9; i++ {
		b.WriteByte(idAlphabet[rand.Intn(len(idAlphabet))])
	}
	return b.String()
}
