package raidpir

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/raidpir/internal/bitops"
	"github.com/kenneth/raidpir/internal/expand"
	"github.com/kenneth/raidpir/internal/metrics"
	"github.com/kenneth/raidpir/internal/seedaudit"
	"github.com/kenneth/raidpir/internal/tracing"
)

// QueueSize is the target depth of the preprocessed seed queue (spec §9
// flags this as a hard-coded constant with no documented rationale; it is
// exported here rather than kept private). Every Server uses this value;
// internal/config's Queue.Size setting does not change it.
const QueueSize = 32

type seedPartial struct {
	seed    uint64
	partial Element
}

// Server holds one shard's view of the database — its own chunk plus the
// foreign chunks it must mask against — and the preprocessing queue that
// makes online responses fast. A Server is safe for concurrent use.
type Server struct {
	id         int
	servers    int
	redundancy int

	blocksPerServer int
	dbLocal         []Element
	russians        [][]Element // nil unless constructed with useRussians
	zero            Element

	mu        sync.Mutex
	queue     []seedPartial
	queueUsed map[uint64]Element

	padPool bitops.Pool

	tracer  trace.Tracer
	audit   *seedaudit.Logger
	metrics *metrics.Metrics
}

// NewServer constructs a server for shard id (0-indexed) of a servers-way
// replicated database. db is the server's view of the full, unpadded,
// unrotated database; it is padded internally with zero.Clone() values to a
// multiple of servers*8 elements, then rotated left by id*blocksPerServer so
// this server's own chunk sits at offset 0 (spec §4.3). zero must be the
// element type's default/identity value.
//
// When useRussians is true, a Four Russians lookup table is precomputed
// over the server's own chunk, trading memory
// ((blocksPerServer/8)*256*sizeof(T)) for an online response path that does
// table lookups instead of a bit scan.
func NewServer(db []Element, zero Element, id, servers, redundancy int, useRussians bool) (*Server, error) {
	if servers <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("servers must be positive, got %d", servers)}
	}
	if redundancy < 2 || redundancy > servers {
		return nil, &ConfigError{Reason: fmt.Sprintf("redundancy must be in [2, servers=%d], got %d", servers, redundancy)}
	}
	if id < 0 || id >= servers {
		return nil, &ConfigError{Reason: fmt.Sprintf("id must be in [0, servers=%d), got %d", servers, id)}
	}

	unit := servers * 8
	padded := make([]Element, len(db))
	copy(padded, db)
	if rem := len(padded) % unit; rem != 0 {
		for i := 0; i < unit-rem; i++ {
			padded = append(padded, zero.Clone())
		}
	}

	blocksPerServer := len(padded) / servers
	dbLocal := rotateLeftElements(padded, id*blocksPerServer)

	s := &Server{
		id:              id,
		servers:         servers,
		redundancy:      redundancy,
		blocksPerServer: blocksPerServer,
		dbLocal:         dbLocal,
		zero:            zero,
		queue:           make([]seedPartial, 0, QueueSize),
		queueUsed:       make(map[uint64]Element),
		tracer:          tracing.Tracer("raidpir/server"),
	}

	if useRussians {
		s.russians = buildRussiansTable(dbLocal, blocksPerServer, zero)
	}

	return s, nil
}

// rotateLeftElements returns a new slice holding elements rotated left by n
// positions (the element-level analogue of bitops.RotateLeftBytes).
func rotateLeftElements(elements []Element, n int) []Element {
	l := len(elements)
	if l == 0 {
		return nil
	}
	n = ((n % l) + l) % l

	out := make([]Element, l)
	copy(out, elements[n:])
	copy(out[l-n:], elements[:n])
	return out
}

// buildRussiansTable precomputes, for each byte position p within the own
// chunk and each possible byte value v, the XOR of the subset of
// dbLocal[8p:8p+8) selected by the LSB-first bits of v (spec §4.3).
func buildRussiansTable(dbLocal []Element, blocksPerServer int, zero Element) [][]Element {
	bytesPerChunk := blocksPerServer / 8
	table := make([][]Element, bytesPerChunk)
	for p := 0; p < bytesPerChunk; p++ {
		row := make([]Element, 256)
		block := dbLocal[8*p : 8*p+8]
		for v := 0; v < 256; v++ {
			acc := zero.Clone()
			for bit := 0; bit < 8; bit++ {
				if v&(1<<uint(bit)) != 0 {
					acc = acc.XOR(block[bit])
				}
			}
			row[v] = acc
		}
		table[p] = row
	}
	return table
}

// Preprocess fills the seed queue up to QueueSize, drawing fresh entropy for
// each seed and precomputing its masked-foreign-chunk partial answer. It is
// idempotent with respect to queue size: calling it when the queue is
// already full returns immediately.
//
// Each iteration computes its partial answer without holding the lock, and
// only briefly locks to append the finished entry, so a concurrent Seed
// call is never blocked for the full preprocessing batch (spec §5).
func (s *Server) Preprocess() {
	s.preprocess(context.Background())
}

func (s *Server) preprocess(ctx context.Context) {
	start := time.Now()
	padBits := s.blocksPerServer * (s.redundancy - 1)
	padBytes := (padBits + 7) / 8

	for {
		s.mu.Lock()
		full := len(s.queue) >= QueueSize
		s.mu.Unlock()
		if full {
			duration := time.Since(start)
			if s.audit != nil {
				s.audit.LogPreprocess(s.id, duration)
			}
			if s.metrics != nil {
				s.metrics.RecordPreprocess(ctx, s.id, duration)
			}
			return
		}

		seed, err := randomSeed()
		if err != nil {
			// Entropy exhaustion is fatal per spec §7: there is no
			// partial-success path.
			panic(fmt.Sprintf("raidpir: failed to draw preprocessing seed: %v", err))
		}

		pad := s.padPool.Get(padBytes)
		expand.BitsInto(pad, seed, padBits)
		partial := s.zero.Clone()
		for j := 0; j < padBits; j++ {
			if bitops.GetBit(pad, j) {
				partial = partial.XOR(s.dbLocal[s.blocksPerServer+j])
			}
		}
		s.padPool.Put(pad)

		s.mu.Lock()
		if len(s.queue) < QueueSize {
			s.queue = append(s.queue, seedPartial{seed: seed, partial: partial})
		}
		s.mu.Unlock()
	}
}

// Seed vends a preprocessed seed, moving its partial answer from the queue
// to queue_used. It blocks for the duration of Preprocess if and only if
// the queue is empty when called.
func (s *Server) Seed() uint64 {
	return s.seed(context.Background())
}

func (s *Server) seed(ctx context.Context) uint64 {
	seedStart := time.Now()
	s.mu.Lock()
	for len(s.queue) == 0 {
		s.mu.Unlock()
		s.preprocess(ctx)
		s.mu.Lock()
	}
	entry := s.queue[0]
	s.queue = s.queue[1:]
	s.queueUsed[entry.seed] = entry.partial
	queueUsedLen := len(s.queueUsed)
	s.mu.Unlock()

	duration := time.Since(seedStart)
	if s.audit != nil {
		s.audit.LogSeedVended(s.id, entry.seed, duration)
	}
	if s.metrics != nil {
		s.metrics.RecordSeedVended(s.id)
		s.metrics.SetQueueUsedDepth(s.id, queueUsedLen)
	}
	return entry.seed
}

// Response answers an online query for the given previously vended seed.
// query must be exactly blocksPerServer/8 bytes, LSB-first bit order.
func (s *Server) Response(seed uint64, query []byte) (Element, error) {
	return s.response(context.Background(), seed, query)
}

func (s *Server) response(ctx context.Context, seed uint64, query []byte) (Element, error) {
	start := time.Now()

	want := s.blocksPerServer / 8
	if len(query) != want {
		err := &QueryShapeError{Want: want, Got: len(query)}
		s.recordResponseFailure(ctx, seed, err, time.Since(start), "query_shape")
		return nil, err
	}

	s.mu.Lock()
	partial, ok := s.queueUsed[seed]
	if ok {
		delete(s.queueUsed, seed)
	}
	queueUsedLen := len(s.queueUsed)
	s.mu.Unlock()

	if !ok {
		err := &UnknownSeed{Seed: seed}
		s.recordResponseFailure(ctx, seed, err, time.Since(start), "unknown_seed")
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SetQueueUsedDepth(s.id, queueUsedLen)
	}

	answer := partial
	usedRussians := s.russians != nil
	if usedRussians {
		for p, b := range query {
			answer = answer.XOR(s.russians[p][b])
		}
	} else {
		for b := 0; b < s.blocksPerServer; b++ {
			if bitops.GetBit(query, b) {
				answer = answer.XOR(s.dbLocal[b])
			}
		}
	}

	duration := time.Since(start)
	if s.audit != nil {
		s.audit.LogResponse(s.id, seed, nil, duration)
	}
	if s.metrics != nil {
		s.metrics.RecordResponse(ctx, s.id, usedRussians, duration)
	}
	return answer, nil
}

// recordResponseFailure logs and records a failed Response call through
// whichever of audit/metrics are attached.
func (s *Server) recordResponseFailure(ctx context.Context, seed uint64, err error, duration time.Duration, errorType string) {
	if s.audit != nil {
		s.audit.LogResponse(s.id, seed, err, duration)
	}
	if s.metrics != nil {
		s.metrics.RecordResponseError(s.id, errorType)
	}
}

// SetTracer overrides the tracer used by the Ctx variants of Preprocess,
// Seed, and Response. By default a Server uses the tracer registered with
// whatever TracerProvider is globally installed, which is a no-op until one
// is (internal/tracing.NewTracerProvider installs a real one).
func (s *Server) SetTracer(t trace.Tracer) { s.tracer = t }

// SetAuditLogger attaches a seedaudit.Logger that records every Seed,
// Preprocess, and Response call's lifecycle — server id, seed, duration,
// and success/error — without ever seeing the query bitstring itself. Unset
// by default; a Server with no logger attached pays no audit overhead.
func (s *Server) SetAuditLogger(l *seedaudit.Logger) { s.audit = l }

// SetMetrics attaches a metrics.Metrics instance that records the same
// Seed/Preprocess/Response lifecycle as SetAuditLogger, as Prometheus
// series instead of a retained event log. Calls made through the Ctx
// variants (PreprocessCtx, SeedCtx, ResponseCtx) attach an exemplar tying
// each recorded sample back to the trace that triggered it, when one
// exists; calls through the plain methods record with no exemplar. Unset
// by default; a Server with no metrics attached pays no recording overhead.
func (s *Server) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// PreprocessCtx is Preprocess wrapped in a span, started only if ctx already
// carries a parent span (spec §5/§9: preprocessing runs continuously in the
// background, so it should not manufacture root spans on an untraced call
// tree).
func (s *Server) PreprocessCtx(ctx context.Context) {
	spanCtx, _, end := tracing.StartSpan(ctx, s.tracer, "raidpir.Server.Preprocess")
	s.preprocess(spanCtx)
	end(nil)
}

// SeedCtx is Seed wrapped in a span under the same rules as PreprocessCtx.
func (s *Server) SeedCtx(ctx context.Context) uint64 {
	spanCtx, _, end := tracing.StartSpan(ctx, s.tracer, "raidpir.Server.Seed")
	seed := s.seed(spanCtx)
	end(nil)
	return seed
}

// ResponseCtx is Response wrapped in a span under the same rules as
// PreprocessCtx; a returned error is recorded on the span.
func (s *Server) ResponseCtx(ctx context.Context, seed uint64, query []byte) (Element, error) {
	spanCtx, _, end := tracing.StartSpan(ctx, s.tracer, "raidpir.Server.Response")
	answer, err := s.response(spanCtx, seed, query)
	end(err)
	return answer, err
}

// ID returns this server's shard identity.
func (s *Server) ID() int { return s.id }

// BlocksPerServer returns the element count of this server's own chunk.
func (s *Server) BlocksPerServer() int { return s.blocksPerServer }

// QueueLen reports the number of preprocessed, not-yet-vended seeds. Mainly
// useful for metrics and tests.
func (s *Server) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func randomSeed() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
