package querydsl

import (
	"regexp"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// CompileCache memoizes FieldPath and regex compilation, keyed by an
// xxhash digest of the source string. FieldPath parsing and regex
// compilation are pure functions of their input string, so a cache is
// always sound: the same source always compiles to the same value.
type CompileCache struct {
	mu     sync.RWMutex
	paths  map[uint64]FieldPath
	regexs map[uint64]*regexp.Regexp
}

// NewCompileCache returns an empty cache.
func NewCompileCache() *CompileCache {
	return &CompileCache{
		paths:  make(map[uint64]FieldPath),
		regexs: make(map[uint64]*regexp.Regexp),
	}
}

// FieldPath returns the compiled path for src, parsing and caching it on
// first use.
func (c *CompileCache) FieldPath(src string) (FieldPath, error) {
	key := xxhash.Sum64String("path:" + src)

	c.mu.RLock()
	if fp, ok := c.paths[key]; ok {
		c.mu.RUnlock()
		return fp, nil
	}
	c.mu.RUnlock()

	fp, err := ParseFieldPath(src)
	if err != nil {
		return FieldPath{}, err
	}

	c.mu.Lock()
	c.paths[key] = fp
	c.mu.Unlock()
	return fp, nil
}

// Regex returns the compiled regular expression for src, compiling and
// caching it on first use.
func (c *CompileCache) Regex(src string) (*regexp.Regexp, error) {
	key := xxhash.Sum64String("re:" + src)

	c.mu.RLock()
	if re, ok := c.regexs[key]; ok {
		c.mu.RUnlock()
		return re, nil
	}
	c.mu.RUnlock()

	re, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.regexs[key] = re
	c.mu.Unlock()
	return re, nil
}
