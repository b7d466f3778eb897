/*
Package loghub buffers deployment log streams in memory.

Each deployment gets a bounded ring (default 1000 entries). Append
assigns a per-deployment sequence number, drops the oldest entries on
overflow (handing them to a persistence hook when one is configured),
and fans the entry out to subscribers in sequence order. Query applies
a filter pipeline over a copy of the ring: level, source, time window,
case-insensitive search across message and tags, tag membership, then
a tail slice. A periodic sweep drops rings that have not been touched
within the retention window.

Ordering is promised only within one deployment. Subscribers receive
entries synchronously and must not block; the WebSocket gateway's
per-connection queues absorb slow consumers.
*/
package loghub
