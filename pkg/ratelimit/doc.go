// Package ratelimit paces the sequential Conduit requests a fetch run
// issues. The fetcher calls Wait before every revision and transaction page
// fetch; the token bucket refills once per period, so a long run spreads its
// requests out instead of hammering the API. Pacing never reorders or
// parallelizes anything, the run stays strictly sequential.
package ratelimit
