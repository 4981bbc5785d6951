// Package progress provides progress reporting for artifact transfers.
//
// The reporter prints completion percentage, transfer speed and ETA to
// stderr while the transfer scheduler feeds it chunk events.
//
//	[plyfetch] Fetching job a1b2c3
//	[plyfetch] Total size: 60.00 MB | Chunks: 8 | Workers: 8
//	[plyfetch] Progress: 62.5% | 37.50 MB / 60.00 MB | Speed: 41.20 MB/s | ETA: 1s | Chunks: 5 done, 3 active, 0 pending
package progress
