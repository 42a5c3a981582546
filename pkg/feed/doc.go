// Package feed is the HTTP client for the remote post feed.
//
// It exposes the three calls the archiver needs: a paginated author
// timeline, an author's likes, and a lookup of posts by id. Every element
// of a response array is kept verbatim as json.RawMessage so that it can
// be stored exactly as received, and is parsed on the side into the few
// typed fields the archiver reads (id, author id, author handle).
//
// Each response also carries the server's rate-limit counters, returned
// as a ratelimit.Status alongside the records.
package feed
