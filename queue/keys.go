package queue

import "fmt"

// Key layout inside badger. Pending keys sort lexicographically by priority
// then eligible time then enqueue sequence, so a forward iteration over the
// pending prefix visits jobs in claim order.
//
//	q:<lane>:pending:<prio>:<eligible-at-nanos>:<seq> -> job bytes
//	q:<lane>:claimed:<job-id>                         -> job bytes
//	q:<lane>:done:<job-id>                            -> job bytes
//	q:<lane>:dead:<job-id>                            -> job bytes
//	q:<lane>:paused                                   -> marker
func pendingKey(lane string, priority int, eligibleAtNanos int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("q:%s:pending:%03d:%020d:%020d", lane, clampPriority(priority), eligibleAtNanos, seq))
}

func pendingPrefix(lane string) []byte {
	return []byte(fmt.Sprintf("q:%s:pending:", lane))
}

func claimedKey(lane, jobID string) []byte {
	return []byte(fmt.Sprintf("q:%s:claimed:%s", lane, jobID))
}

func claimedPrefix(lane string) []byte {
	return []byte(fmt.Sprintf("q:%s:claimed:", lane))
}

func doneKey(lane, jobID string) []byte {
	return []byte(fmt.Sprintf("q:%s:done:%s", lane, jobID))
}

func donePrefix(lane string) []byte {
	return []byte(fmt.Sprintf("q:%s:done:", lane))
}

func deadKey(lane, jobID string) []byte {
	return []byte(fmt.Sprintf("q:%s:dead:%s", lane, jobID))
}

func deadPrefix(lane string) []byte {
	return []byte(fmt.Sprintf("q:%s:dead:", lane))
}

func pausedKey(lane string) []byte {
	return []byte(fmt.Sprintf("q:%s:paused", lane))
}

func sequenceKey(lane string) []byte {
	return []byte(fmt.Sprintf("q:%s:seq", lane))
}

func clampPriority(priority int) int {
	if priority < 0 {
		return 0
	}
	if priority > 999 {
		return 999
	}
	return priority
}
