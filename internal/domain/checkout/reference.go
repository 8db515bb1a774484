package checkout

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	referenceCapacity = 100_000
	referenceFPR      = 0.0001
)

// References generates external references of the form
// NAMESPACE-TOKEN-HINT-MILLIS. A bloom filter of recently issued references
// bumps the timestamp on collision so two attempts in the same millisecond
// never share a reference.
type References struct {
	namespace string
	now       func() time.Time

	mu     sync.Mutex
	issued *bloom.BloomFilter
	count  uint
}

// NewReferences creates a generator for namespace.
func NewReferences(namespace string) *References {
	if namespace == "" {
		namespace = "ONEWAY"
	}
	return &References{
		namespace: referenceToken(namespace),
		now:       time.Now,
		issued:    bloom.NewWithEstimates(referenceCapacity, referenceFPR),
	}
}

// Next returns a fresh reference. Empty parts are omitted.
func (r *References) Next(parts ...string) string {
	prefix := r.namespace
	for _, p := range parts {
		if t := referenceToken(p); t != "" {
			prefix += "-" + t
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= referenceCapacity {
		r.issued.ClearAll()
		r.count = 0
	}

	ms := r.now().UnixMilli()
	for {
		ref := prefix + "-" + strconv.FormatInt(ms, 10)
		if !r.issued.TestOrAddString(ref) {
			r.count++
			return ref
		}
		ms++
	}
}

// ProductToken shortens a catalog key for use in a reference:
// "camiseta-oneway-branca" becomes "ONEWAYBRANCA".
func ProductToken(key string) string {
	return referenceToken(strings.TrimPrefix(key, "camiseta-"))
}

func referenceToken(s string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(s) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}
