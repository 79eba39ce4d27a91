package igd

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Description fetches in flight at once during a concurrent search.
const maxConcurrentFetches = 8

// candidateState tracks a responder through the concurrent search.
type candidateState int

const (
	candidateFetching candidateState = iota
	candidateResolved
	candidateFailed
)

type searchDatagram struct {
	addr netip.AddrPort
	path string
}

type fetchResult struct {
	addr       netip.AddrPort
	controlURL string
	err        error
}

// SearchGatewayConcurrent searches for a gateway while resolving many
// responders at once. Datagrams are handled in arrival order; each new
// responder address starts exactly one description fetch, duplicates are
// dropped. The first fetch to resolve a control URL wins; outstanding fetches
// are abandoned and their late results discarded. A fetch failure only marks
// that responder failed. The search as a whole fails when the context (or
// Timeout) expires, or on a socket error.
func SearchGatewayConcurrent(ctx context.Context, opts SearchOptions) (*Gateway, error) {
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	conn, err := openSearchSocket(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var (
		log       = zerolog.Ctx(ctx)
		datagrams = make(chan searchDatagram)
		readErrs  = make(chan error, 1)
	)

	// Reader: parse datagrams as they arrive, dropping unusable ones. A
	// socket error is fatal for the whole search.
	go func() {
		buf := make([]byte, maxSSDPResponseSize)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				readErrs <- err
				return
			}
			addr, path, err := parseSearchResponse(buf[:n])
			if err != nil {
				log.Debug().Err(err).
					Msg("skipping unusable search response")
				continue
			}
			select {
			case datagrams <- searchDatagram{addr: addr, path: path}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		fetchers errgroup.Group
		// Buffered to the fetch limit so a finished fetch can always deposit
		// its result without a receiver.
		results = make(chan fetchResult, maxConcurrentFetches)
		pending = make(map[netip.AddrPort]candidateState)

		// Candidates waiting for a fetch slot. The coordinator enforces the
		// limit itself so dispatching never blocks the select loop.
		backlog  []searchDatagram
		inflight int
	)

	fetch := func(d searchDatagram) {
		inflight++
		fetchers.Go(func() error {
			controlURL, err := fetchControlURL(ctx, opts.transport(), d.addr, d.path)
			select {
			case results <- fetchResult{addr: d.addr, controlURL: controlURL, err: err}:
			case <-ctx.Done():
			}
			return nil
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case err := <-readErrs:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("waiting for search responses: %w", err)

		case d := <-datagrams:
			if _, seen := pending[d.addr]; seen {
				log.Debug().
					Str("gateway", d.addr.String()).
					Msg("dropping duplicate search response")
				continue
			}
			pending[d.addr] = candidateFetching
			if inflight < maxConcurrentFetches {
				fetch(d)
			} else {
				backlog = append(backlog, d)
			}

		case r := <-results:
			inflight--
			if len(backlog) > 0 {
				next := backlog[0]
				backlog = backlog[1:]
				fetch(next)
			}

			if r.err != nil {
				pending[r.addr] = candidateFailed
				log.Debug().Err(r.err).
					Str("gateway", r.addr.String()).
					Msg("candidate did not resolve")
				continue
			}
			pending[r.addr] = candidateResolved
			return NewGateway(r.addr, r.controlURL, opts.gatewayOptions()...), nil
		}
	}
}
