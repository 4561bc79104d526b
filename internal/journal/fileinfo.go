package journal

// FileInfo is the per-writer-file summary used for id->file resolution. For
// the file currently being appended to, appends update only HeadID (on the
// first record) — TailID/ItemCount/TotalBytes keep the values found when the
// file was scanned at Open (zero for a file created since) and are brought
// up to date once the file is rotated out and its contents are final.
type FileInfo struct {
	Path       string
	HeadID     uint64
	TailID     uint64
	ItemCount  int64
	TotalBytes int64
}

// writerFile tracks a single writer file's state. info is the externally
// visible snapshot; the live* fields accumulate while the file is the
// journal's active (still-being-appended-to) file and are copied into info
// only once the file is rotated away.
type writerFile struct {
	info FileInfo
	ts   int64 // the millisecond timestamp encoded in the file name

	liveTailID      uint64
	liveItemCount   int64
	livePayloadSize int64
	liveDiskSize    int64
}

// finalize copies the live counters into the externally-visible info, once
// the file has been rotated out (it will never be appended to again).
func (w *writerFile) finalize() {
	w.info.TailID = w.liveTailID
	w.info.ItemCount = w.liveItemCount
	w.info.TotalBytes = w.livePayloadSize
}
