package journal

import (
	"fmt"
	"strconv"
	"strings"
)

const tempSuffix = "~~"

func writerFileName(queue string, ts int64) string {
	return fmt.Sprintf("%s.%d", queue, ts)
}

func checkpointFileName(queue, reader string) string {
	return fmt.Sprintf("%s.read.%s", queue, reader)
}

// parseWriterFileName returns the millisecond timestamp suffix if name is a
// writer file belonging to queue ("<queue>.<number>"), else ok is false.
func parseWriterFileName(queue, name string) (ts int64, ok bool) {
	prefix := queue + "."
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	rest := name[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseCheckpointFileName returns the reader name if name is a checkpoint
// file belonging to queue ("<queue>.read.<name>"), else ok is false. The
// empty reader name denotes the implicit default reader.
func parseCheckpointFileName(queue, name string) (reader string, ok bool) {
	prefix := queue + ".read."
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	rest := name[len(prefix):]
	if strings.Contains(rest, "/") || strings.Contains(rest, tempSuffix) {
		return "", false
	}
	return rest, true
}
