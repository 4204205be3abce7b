package util

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewUniqueID_Format(t *testing.T) {
	id := NewUniqueID()
	assert.Regexp(t, hex32, id)
}

func TestNewUniqueID_ConcurrentNoCollisions(t *testing.T) {
	const workers = 16
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, NewUniqueID())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, workers*perWorker)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "0123abcd", ShortID("0123abcdef"))
}
