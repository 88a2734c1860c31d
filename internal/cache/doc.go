// Package cache keeps recently read blocks of volume blobs in memory so that
// repeated slice reads against remote stores hit memory instead of the network.
//
// LRUBlockCache is a single size-bounded LRU. ShardedLRUBlockCache splits the
// capacity over up to 64 LRU shards, selected with maphash over the blob path
// and block index, to keep lock contention low when many slice tasks read in
// parallel. Both charge cached bytes against a resource.Controller memory
// budget when one is given, and skip blocks the budget refuses.
package cache
