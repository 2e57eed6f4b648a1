// Package pagination fetches every page of one listing window concurrently.
//
// The API reports the total number of results for a window on each page. The
// pager fetches page 1 to learn that total, derives the page count, then
// fetches pages 1..N in parallel through the client (whose limiter bounds the
// number of requests in flight) and merges the listings into one result.
//
// Example usage:
//
//	pager := pagination.NewPager(listingClient, pagination.DefaultConfig())
//	result, err := pager.Page(ctx, w)
//
// The pager:
//   - Probes page 1 for the window's total result count
//   - Computes pages as total/pageSize + 1
//   - Re-fetches page 1 along with every other page
//   - Preserves listing order within each page and returns pages in page order
//   - Applies the FailedPagePolicy to pages that could not be fetched
package pagination
