// SPDX-License-Identifier: MIT

package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/metrics"
)

const keyPrefix = "vec:"

// Seed is one recording's indexable text, supplied by the caller during
// rebuild and reconciliation.
type Seed struct {
	RecordingID int64
	Text        string
}

// Hit is one search result; Distance is cosine distance in [0, 2], lower is
// closer.
type Hit struct {
	RecordingID int64
	Distance    float64
}

type opKind int

const (
	opUpsert opKind = iota
	opDelete
	opSync
)

type op struct {
	kind opKind
	id   int64
	vec  []float32
	done chan struct{}
}

// Index is a single-writer-multi-reader brute-force cosine index. Mutations
// are queued and applied by one writer goroutine; reads see the in-memory
// snapshot. Vectors persist to badger so restarts skip the full rebuild.
type Index struct {
	db  *badger.DB
	log zerolog.Logger

	mu      sync.RWMutex
	vectors map[int64][]float32

	ops    chan op
	closed chan struct{}
	wg     sync.WaitGroup
}

// Open loads persisted vectors and starts the writer loop.
func Open(path string) (*Index, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	idx := &Index{
		db:      db,
		log:     log.WithComponent("vector"),
		vectors: make(map[int64][]float32),
		ops:     make(chan op, 1024),
		closed:  make(chan struct{}),
	}
	if err := idx.load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	idx.wg.Add(1)
	go idx.writerLoop()

	idx.log.Info().Str("event", "vector.opened").Int("vectors", len(idx.vectors)).Msg("vector index opened")
	return idx, nil
}

// Close stops the writer and closes the store. Pending mutations are
// applied first.
func (idx *Index) Close() error {
	close(idx.closed)
	idx.wg.Wait()
	return idx.db.Close()
}

// Upsert queues an embedding write for a recording.
func (idx *Index) Upsert(recordingID int64, text string) {
	idx.enqueue(op{kind: opUpsert, id: recordingID, vec: Embed(text)})
}

// Delete queues removal of a recording's vector.
func (idx *Index) Delete(recordingID int64) {
	idx.enqueue(op{kind: opDelete, id: recordingID})
}

// Flush blocks until all previously queued mutations are applied.
func (idx *Index) Flush() {
	done := make(chan struct{})
	idx.enqueue(op{kind: opSync, done: done})
	select {
	case <-done:
	case <-idx.closed:
	}
}

func (idx *Index) enqueue(o op) {
	select {
	case idx.ops <- o:
	case <-idx.closed:
	}
}

func (idx *Index) writerLoop() {
	defer idx.wg.Done()
	for {
		select {
		case o := <-idx.ops:
			idx.apply(o)
		case <-idx.closed:
			// Drain before shutdown.
			for {
				select {
				case o := <-idx.ops:
					idx.apply(o)
				default:
					return
				}
			}
		}
	}
}

func (idx *Index) apply(o op) {
	switch o.kind {
	case opSync:
		close(o.done)
		return
	case opUpsert:
		if err := idx.persist(o.id, o.vec); err != nil {
			idx.log.Warn().Str("event", "vector.persist.failed").Int64("recording_id", o.id).Err(err).Msg("vector not persisted")
		}
		idx.mu.Lock()
		idx.vectors[o.id] = o.vec
		idx.mu.Unlock()
	case opDelete:
		if err := idx.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key(o.id))
		}); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			idx.log.Warn().Str("event", "vector.delete.failed").Int64("recording_id", o.id).Err(err).Msg("vector not deleted")
		}
		idx.mu.Lock()
		delete(idx.vectors, o.id)
		idx.mu.Unlock()
	}
}

func (idx *Index) persist(id int64, vec []float32) error {
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(id), buf)
	})
}

func (idx *Index) load() error {
	return idx.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id, err := strconv.ParseInt(string(item.Key()[len(prefix):]), 10, 64)
			if err != nil {
				continue
			}
			err = item.Value(func(val []byte) error {
				if len(val)%4 != 0 {
					return nil
				}
				vec := make([]float32, len(val)/4)
				for i := range vec {
					vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(val[4*i:]))
				}
				idx.vectors[id] = vec
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func key(id int64) []byte {
	return []byte(keyPrefix + strconv.FormatInt(id, 10))
}

// Size reports the number of indexed vectors.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Search returns the topK closest recordings to the query text.
func (idx *Index) Search(query string, topK int) []Hit {
	return idx.search(Embed(query), topK)
}

func (idx *Index) search(q []float32, topK int) []Hit {
	if topK <= 0 {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]Hit, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		d := CosineDistance(q, vec)
		if d >= 2 {
			continue
		}
		hits = append(hits, Hit{RecordingID: id, Distance: d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].RecordingID < hits[j].RecordingID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// SearchBatch embeds and searches all queries, parallelized across the
// batch. Result order matches query order.
func (idx *Index) SearchBatch(ctx context.Context, queries []string, topK int) ([][]Hit, error) {
	start := time.Now()
	defer func() {
		metrics.VectorSearchDuration.Observe(time.Since(start).Seconds())
	}()

	results := make([][]Hit, len(queries))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range queries {
		g.Go(func() error {
			results[i] = idx.Search(q, topK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Rebuild replaces the whole index with the given seeds. Used at startup
// when the store is empty and by the drift reconciler's full-repair path.
func (idx *Index) Rebuild(ctx context.Context, seeds []Seed) error {
	fresh := make(map[int64][]float32, len(seeds))
	for _, s := range seeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		fresh[s.RecordingID] = Embed(s.Text)
	}

	err := idx.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		prefix := []byte(keyPrefix)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := append([]byte(nil), it.Item().Key()...)
			stale = append(stale, k)
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear vector store: %w", err)
	}
	for id, vec := range fresh {
		if err := idx.persist(id, vec); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	idx.vectors = fresh
	idx.mu.Unlock()

	idx.log.Info().Str("event", "vector.rebuilt").Int("vectors", len(fresh)).Msg("vector index rebuilt")
	return nil
}

// Reconcile sweeps for drift between the index and the knowledge base:
// missing seeds are embedded, vectors without a seed are dropped. Returns
// (added, removed).
func (idx *Index) Reconcile(ctx context.Context, seeds []Seed) (int, int, error) {
	want := make(map[int64]string, len(seeds))
	for _, s := range seeds {
		want[s.RecordingID] = s.Text
	}

	idx.mu.RLock()
	var missing []Seed
	var stale []int64
	for id, text := range want {
		if _, ok := idx.vectors[id]; !ok {
			missing = append(missing, Seed{RecordingID: id, Text: text})
		}
	}
	for id := range idx.vectors {
		if _, ok := want[id]; !ok {
			stale = append(stale, id)
		}
	}
	idx.mu.RUnlock()

	for _, s := range missing {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		idx.Upsert(s.RecordingID, s.Text)
	}
	for _, id := range stale {
		idx.Delete(id)
	}
	idx.Flush()

	if len(missing) > 0 || len(stale) > 0 {
		idx.log.Info().Str("event", "vector.reconciled").
			Int("added", len(missing)).Int("removed", len(stale)).Msg("vector drift repaired")
	}
	return len(missing), len(stale), nil
}
