package raidpir

import (
	"fmt"

	"github.com/kenneth/raidpir/internal/bitops"
	"github.com/kenneth/raidpir/internal/expand"
)

// Client holds the replication parameters needed to construct queries and
// combine responses. It carries no database contents and no per-query
// state, so a single Client can be reused concurrently across many queries.
type Client struct {
	blocks       int
	blocksPadded int
	servers      int
	redundancy   int

	padPool bitops.Pool
}

// NewClient creates a client for a database of the given logical size,
// split across servers servers with the given redundancy. redundancy must
// be between 2 and servers inclusive; servers must be positive. blocks is
// rounded up internally to BlocksPadded, a multiple of servers*8, so callers
// never need to pad the database themselves.
func NewClient(blocks, servers, redundancy int) (*Client, error) {
	if servers <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("servers must be positive, got %d", servers)}
	}
	if redundancy < 2 || redundancy > servers {
		return nil, &ConfigError{Reason: fmt.Sprintf("redundancy must be in [2, servers=%d], got %d", servers, redundancy)}
	}
	if blocks < 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("blocks must be non-negative, got %d", blocks)}
	}

	unit := servers * 8
	blocksPadded := blocks
	if rem := blocks % unit; rem != 0 {
		blocksPadded = blocks + unit - rem
	}

	return &Client{
		blocks:       blocks,
		blocksPadded: blocksPadded,
		servers:      servers,
		redundancy:   redundancy,
	}, nil
}

// Blocks returns the logical (unpadded) database size this client was
// constructed for.
func (c *Client) Blocks() int { return c.blocks }

// BlocksPadded returns the padded database size: a multiple of
// Servers()*8, always >= Blocks().
func (c *Client) BlocksPadded() int { return c.blocksPadded }

// Servers returns the number of servers the database is split across.
func (c *Client) Servers() int { return c.servers }

// BlocksPerServer returns BlocksPadded() / Servers().
func (c *Client) BlocksPerServer() int { return c.blocksPadded / c.servers }

// Redundancy returns the configured redundancy degree.
func (c *Client) Redundancy() int { return c.redundancy }

// Query builds the per-server query bitstrings for the given database
// index, one per server, in server order. seeds must have exactly
// Servers() entries: seeds[i] is the preprocessing seed this client has
// been handed by server i (see Server.Seed), used to cancel out that
// server's contribution to the redundancy padding.
//
// The construction follows the reference implementation's rotate-and-XOR
// trick (spec §9): rather than scattering each seed's random pad at
// `(i+j) mod servers` chunk offsets with indexed access, the whole query
// buffer is rotated one chunk at a time and the pad is XORed into the
// leading chunks, which keeps the inner loop a single contiguous XOR.
func (c *Client) Query(index int, seeds []uint64) ([][]byte, error) {
	if index < 0 || index >= c.blocks {
		return nil, &ConfigError{Reason: fmt.Sprintf("index %d out of range [0, %d)", index, c.blocks)}
	}
	if len(seeds) != c.servers {
		return nil, &ConfigError{Reason: fmt.Sprintf("expected %d seeds, got %d", c.servers, len(seeds))}
	}

	blocksPerServer := c.BlocksPerServer()
	chunkBytes := blocksPerServer / 8

	query := make([]byte, c.blocksPadded/8)
	bitops.SetBit(query, index, true)

	padBits := blocksPerServer * (c.redundancy - 1)
	padBytes := (padBits + 7) / 8
	pad := c.padPool.Get(padBytes)
	for _, seed := range seeds {
		query = bitops.RotateLeftBytes(query, chunkBytes)
		expand.BitsInto(pad, seed, padBits)
		bitops.XORParallel(query[:len(pad)], pad)
	}
	c.padPool.Put(pad)

	chunks := make([][]byte, c.servers)
	for i := 0; i < c.servers; i++ {
		chunks[i] = append([]byte(nil), query[i*chunkBytes:(i+1)*chunkBytes]...)
	}
	return chunks, nil
}

// Combine folds the per-server responses back into the single recovered
// element. responses must have exactly Servers() entries, in server order.
func (c *Client) Combine(responses []Element) (Element, error) {
	if len(responses) != c.servers {
		return nil, &ConfigError{Reason: fmt.Sprintf("expected %d responses, got %d", c.servers, len(responses))}
	}

	data := responses[0].Clone()
	for _, r := range responses[1:] {
		data = data.XOR(r)
	}
	return data, nil
}
